package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/makt28/uptrack/internal/config"
	"github.com/makt28/uptrack/internal/monitor"
	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

// Handlers serves the JSON API.
type Handlers struct {
	cfgMgr     *config.Manager
	store      storage.Store
	dispatcher monitor.Dispatcher
	live       *monitor.LiveHistory
	tracker    *status.Tracker
	now        func() time.Time
}

func NewHandlers(d Deps) *Handlers {
	live := d.Live
	if live == nil {
		live = monitor.NewLiveHistory()
	}
	tracker := d.Tracker
	if tracker == nil {
		tracker = status.NewTracker()
	}
	return &Handlers{
		cfgMgr:     d.Config,
		store:      d.Store,
		dispatcher: d.Dispatcher,
		live:       live,
		tracker:    tracker,
		now:        time.Now,
	}
}

// apiMonitorView is the JSON representation of a monitor for the API.
type apiMonitorView struct {
	ID              int64                  `json:"id"`
	Name            string                 `json:"name"`
	Type            string                 `json:"type"`
	Target          string                 `json:"target"`
	Interval        int                    `json:"interval"`
	Enabled         bool                   `json:"enabled"`
	State           monitor.State          `json:"state"`
	HasHistory      bool                   `json:"has_history"`
	Uptime24h       float64                `json:"uptime_24h"`
	LastCheck       int64                  `json:"last_check"`
	ResponseTime    int                    `json:"response_time"`
	Heartbeats      []monitor.LatencyPoint `json:"heartbeats"`
	NotificationIDs []int64                `json:"notification_ids"`
}

// apiDetailView extends apiMonitorView with config fields and the open incident.
type apiDetailView struct {
	apiMonitorView
	MaxRetries      int              `json:"max_retries"`
	Timeout         int              `json:"timeout"`
	DegradedAfterMs int              `json:"degraded_after_ms"`
	IgnoreTLS       bool             `json:"ignore_tls"`
	Ongoing         *status.Incident `json:"ongoing_incident"`
}

// getPoints reads the "points" query param, clamped to [1, 200], default 90.
func getPoints(r *http.Request) int {
	return queryInt(r, "points", 90, 1, 200)
}

// queryInt reads an integer query param, def when absent or invalid, clamped to [lo, hi].
func queryInt(r *http.Request, key string, def, lo, hi int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return min(max(n, lo), hi)
}

// roundUptime rounds to 2 decimal places.
func roundUptime(v float64) float64 {
	return math.Round(v*100) / 100
}

// tailPoints returns the last n points from a slice.
func tailPoints(pts []monitor.LatencyPoint, n int) []monitor.LatencyPoint {
	if len(pts) <= n {
		return pts
	}
	return pts[len(pts)-n:]
}

func (h *Handlers) monitorView(m config.Monitor, defInterval, points int) apiMonitorView {
	interval := m.Interval
	if interval <= 0 {
		interval = defInterval
	}
	mv := apiMonitorView{
		ID:              m.ID,
		Name:            m.Name,
		Type:            m.Type,
		Target:          m.Target,
		Interval:        interval,
		Enabled:         m.IsEnabled(),
		NotificationIDs: m.NotificationIDs,
	}
	snap, ok := h.live.Get(m.ID, points > 0)
	mv.HasHistory = ok
	mv.State = snap.State
	mv.Uptime24h = roundUptime(snap.Uptime24h)
	mv.LastCheck = snap.LastCheckTime
	mv.ResponseTime = snap.LastLatencyMs
	mv.Heartbeats = tailPoints(snap.Latency, points)
	if mv.Heartbeats == nil {
		mv.Heartbeats = []monitor.LatencyPoint{}
	}
	if mv.NotificationIDs == nil {
		mv.NotificationIDs = []int64{}
	}
	return mv
}

// APIMonitors lists every configured monitor with its live state.
func (h *Handlers) APIMonitors(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgMgr.Get()
	points := getPoints(r)

	views := make([]apiMonitorView, 0, len(cfg.Monitors))
	for _, m := range cfg.Monitors {
		views = append(views, h.monitorView(m, cfg.System.CheckInterval, points))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"monitors": views,
		"total":    len(cfg.Monitors),
	})
}

func (h *Handlers) APIMonitorDetail(w http.ResponseWriter, r *http.Request) {
	m := monitorFrom(r.Context())
	cfg := h.cfgMgr.Get()

	view := apiDetailView{
		apiMonitorView:  h.monitorView(m, cfg.System.CheckInterval, getPoints(r)),
		MaxRetries:      m.MaxRetries,
		Timeout:         m.Timeout,
		DegradedAfterMs: m.DegradedAfterMs,
		IgnoreTLS:       m.IgnoreTLS,
	}
	inc, err := h.store.OngoingIncident(r.Context(), m.ID)
	switch {
	case err == nil:
		view.Ongoing = &inc
	case !errors.Is(err, storage.ErrNotFound):
		h.internalError(w, "load ongoing incident", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ToggleMonitor pauses or resumes a monitor. The scheduler picks the change
// up through the config subscription.
func (h *Handlers) ToggleMonitor(w http.ResponseWriter, r *http.Request) {
	id := monitorFrom(r.Context()).ID
	var enabled bool
	err := h.cfgMgr.Update(func(c *config.Config) error {
		for i := range c.Monitors {
			if c.Monitors[i].ID == id {
				enabled = !c.Monitors[i].IsEnabled()
				c.Monitors[i].Enabled = &enabled
				return nil
			}
		}
		return errMonitorGone
	})
	if errors.Is(err, errMonitorGone) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		h.internalError(w, "toggle monitor", err)
		return
	}

	slog.Info("monitor toggled", "monitor_id", id, "enabled", enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

var errMonitorGone = errors.New("monitor removed concurrently")

type triggerRequest struct {
	EventType     notify.EventType `json:"event_type"`
	CronTimestamp int64            `json:"cron_timestamp"`
	StatusCode    int              `json:"status_code"`
	Message       string           `json:"message"`
}

// TriggerEvent dispatches an event by hand. Without cron_timestamp the
// monitor's current tick is negated, which keeps manual triggers apart from
// the scheduler's keys while repeats within one interval still come back
// with duplicate=true.
func (h *Handlers) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	m := monitorFrom(r.Context())

	var req triggerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.EventType.Valid() {
		writeError(w, http.StatusBadRequest, "event_type must be alert, degraded or recovery")
		return
	}
	if req.CronTimestamp < 0 {
		writeError(w, http.StatusBadRequest, "cron_timestamp must be >= 0")
		return
	}
	if req.CronTimestamp == 0 {
		cfg := h.cfgMgr.Get()
		req.CronTimestamp = -monitor.CronTimestamp(h.now(), m.IntervalDuration(cfg.System.CheckInterval))
	}

	res, err := h.dispatcher.Trigger(r.Context(), notify.Event{
		MonitorID:     m.ID,
		Monitor:       notify.MonitorInfo{ID: m.ID, Name: m.Name, URL: m.Target},
		Type:          req.EventType,
		CronTimestamp: req.CronTimestamp,
		StatusCode:    req.StatusCode,
		Message:       req.Message,
	})
	if err != nil {
		if errors.Is(err, notify.ErrUnknownEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.internalError(w, "trigger", err)
		return
	}

	slog.Info("manual trigger", "monitor_id", m.ID, "event_type", req.EventType, "duplicate", res.Duplicate, "failed", res.Failed())
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) ListTriggers(w http.ResponseWriter, r *http.Request) {
	m := monitorFrom(r.Context())
	triggers, err := h.store.ListTriggers(r.Context(), m.ID, queryInt(r, "limit", 100, 1, 1000))
	if err != nil {
		h.internalError(w, "list triggers", err)
		return
	}
	if triggers == nil {
		triggers = []storage.TriggerRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"triggers": triggers})
}

func (h *Handlers) internalError(w http.ResponseWriter, op string, err error) {
	slog.Error("api "+op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeJSON reads a bounded JSON body and rejects unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
