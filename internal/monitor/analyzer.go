package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/makt28/uptrack/internal/config"
	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

// State is the runtime health of a monitor.
type State string

const (
	StateOperational State = "operational"
	StateDegraded    State = "degraded"
	StateDown        State = "down"
)

// event maps the state entered on a transition to the event announced.
func (s State) event() notify.EventType {
	switch s {
	case StateDown:
		return notify.EventAlert
	case StateDegraded:
		return notify.EventDegraded
	default:
		return notify.EventRecovery
	}
}

// Dispatcher announces transitions.
type Dispatcher interface {
	Trigger(ctx context.Context, ev notify.Event) (notify.Result, error)
}

// Recorder is the part of storage the analyzer writes to.
type Recorder interface {
	RecordCheck(ctx context.Context, monitorID int64, bucket time.Time, ok bool) error
	OpenIncident(ctx context.Context, monitorID int64, startedAt time.Time, cause string) (status.Incident, error)
	OngoingIncident(ctx context.Context, monitorID int64) (status.Incident, error)
	ResolveIncident(ctx context.Context, id int64, at time.Time) error
}

// monitorState tracks the runtime state for flapping control.
type monitorState struct {
	state     State
	failCount int
}

// AnalyzeResult is returned to the scheduler.
type AnalyzeResult struct {
	IsFailing  bool
	State      State
	Transition bool
}

// Analyzer turns probe results into states, records them, and dispatches
// an event on every state change.
type Analyzer struct {
	mu     sync.Mutex
	states map[int64]*monitorState

	store      Recorder
	dispatcher Dispatcher
	live       *LiveHistory
	loc        *time.Location
	now        func() time.Time
}

func NewAnalyzer(store Recorder, dispatcher Dispatcher, live *LiveHistory, loc *time.Location) *Analyzer {
	if loc == nil {
		loc = time.UTC
	}
	return &Analyzer{
		states:     make(map[int64]*monitorState),
		store:      store,
		dispatcher: dispatcher,
		live:       live,
		loc:        loc,
		now:        time.Now,
	}
}

// Process handles one probe result taken for the tick cronTimestamp (unix ms).
// Calls for the same monitor must not run concurrently.
func (a *Analyzer) Process(ctx context.Context, m config.Monitor, cronTimestamp int64, result ProbeResult) AnalyzeResult {
	now := a.now()

	bucket := dayStart(now, a.loc)
	if err := a.store.RecordCheck(ctx, m.ID, bucket, result.Up); err != nil {
		slog.Error("record check failed", "monitor_id", m.ID, "error", err)
	}

	st := a.ensureState(ctx, m.ID)
	a.mu.Lock()
	prev := st.state
	next := a.nextState(st, m, result)
	st.state = next
	failCount := st.failCount
	a.mu.Unlock()

	if a.live != nil {
		a.live.Record(m.ID, now, result.Latency, result.Up, next)
	}

	res := AnalyzeResult{IsFailing: !result.Up, State: next, Transition: prev != next}
	if !res.Transition {
		if !result.Up {
			slog.Debug("probe failed",
				"monitor_id", m.ID,
				"name", m.Name,
				"fail_count", failCount,
				"max_retries", m.MaxRetries,
				"error", result.Error,
			)
		}
		return res
	}

	slog.Info("monitor state changed", "monitor_id", m.ID, "name", m.Name, "from", prev, "to", next, "reason", result.Error)
	incidentID := a.trackIncident(ctx, m.ID, prev, next, now, result.Error)

	ev := notify.Event{
		MonitorID:     m.ID,
		Monitor:       notify.MonitorInfo{ID: m.ID, Name: m.Name, URL: m.Target},
		Type:          next.event(),
		CronTimestamp: cronTimestamp,
		StatusCode:    result.StatusCode,
		Message:       result.Error,
		Latency:       result.Latency,
	}
	if incidentID != 0 {
		ev.IncidentID = strconv.FormatInt(incidentID, 10)
	}
	dr, err := a.dispatcher.Trigger(ctx, ev)
	if err != nil {
		slog.Error("dispatch failed", "monitor_id", m.ID, "event_type", ev.Type, "error", err)
	} else if failed := dr.Failed(); failed > 0 {
		slog.Warn("some channels failed", "monitor_id", m.ID, "event_type", ev.Type, "failed", failed, "total", len(dr.Channels))
	}
	return res
}

// nextState applies retry counting and the latency threshold.
func (a *Analyzer) nextState(st *monitorState, m config.Monitor, result ProbeResult) State {
	if !result.Up {
		st.failCount++
		if st.failCount > m.MaxRetries {
			return StateDown
		}
		return st.state
	}
	st.failCount = 0
	if m.DegradedAfterMs > 0 && result.Latency > time.Duration(m.DegradedAfterMs)*time.Millisecond {
		return StateDegraded
	}
	return StateOperational
}

// trackIncident opens an incident when the monitor goes down and resolves
// it when it leaves the down state. It returns the incident concerned.
func (a *Analyzer) trackIncident(ctx context.Context, monitorID int64, prev, next State, now time.Time, cause string) int64 {
	switch {
	case next == StateDown:
		if inc, err := a.store.OngoingIncident(ctx, monitorID); err == nil {
			return inc.ID
		}
		inc, err := a.store.OpenIncident(ctx, monitorID, now, cause)
		if err != nil {
			slog.Error("open incident failed", "monitor_id", monitorID, "error", err)
			return 0
		}
		return inc.ID
	case prev == StateDown:
		inc, err := a.store.OngoingIncident(ctx, monitorID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				slog.Error("load incident failed", "monitor_id", monitorID, "error", err)
			}
			return 0
		}
		if err := a.store.ResolveIncident(ctx, inc.ID, now); err != nil {
			slog.Error("resolve incident failed", "monitor_id", monitorID, "incident_id", inc.ID, "error", err)
		}
		return inc.ID
	}
	return 0
}

// RemoveState cleans up state for a removed monitor.
func (a *Analyzer) RemoveState(monitorID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, monitorID)
	if a.live != nil {
		a.live.Remove(monitorID)
	}
}

// ensureState starts a monitor as down when it still has an open incident,
// so a restart does not re-announce it. The incident lookup runs without
// holding a.mu.
func (a *Analyzer) ensureState(ctx context.Context, id int64) *monitorState {
	a.mu.Lock()
	s, ok := a.states[id]
	a.mu.Unlock()
	if ok {
		return s
	}

	initial := StateOperational
	if _, err := a.store.OngoingIncident(ctx, id); err == nil {
		initial = StateDown
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.states[id]; ok {
		return s
	}
	s = &monitorState{state: initial}
	a.states[id] = s
	return s
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
