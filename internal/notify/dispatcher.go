package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 10 * time.Second
)

// Event is a monitor state change to announce for one scheduling tick.
type Event struct {
	MonitorID     int64
	Monitor       MonitorInfo
	Type          EventType
	CronTimestamp int64
	StatusCode    int
	Message       string
	Latency       time.Duration
	Region        string
	IncidentID    string
}

// Outcome is the delivery result of one channel.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ChannelResult reports what happened on one channel.
type ChannelResult struct {
	ChannelID int64    `json:"channel_id"`
	Provider  Provider `json:"provider"`
	Outcome   Outcome  `json:"outcome"`
	Error     string   `json:"error,omitempty"`
}

// Result summarizes one Trigger call. Channels is empty when the monitor has
// no channels or the trigger was already claimed.
type Result struct {
	ID            uuid.UUID       `json:"id"`
	MonitorID     int64           `json:"monitor_id"`
	EventType     EventType       `json:"event_type"`
	CronTimestamp int64           `json:"cron_timestamp"`
	Duplicate     bool            `json:"duplicate"`
	Channels      []ChannelResult `json:"channels"`
}

// Failed counts the channels whose send failed.
func (r Result) Failed() int {
	n := 0
	for _, c := range r.Channels {
		if c.Outcome == OutcomeFailure {
			n++
		}
	}
	return n
}

// TriggerKey identifies one dispatch: at most one per monitor, tick and type.
type TriggerKey struct {
	MonitorID     int64
	CronTimestamp int64
	EventType     EventType
}

// TriggerStore claims trigger keys. InsertIfAbsent must be atomic: among
// concurrent callers with the same key exactly one observes inserted=true.
type TriggerStore interface {
	InsertIfAbsent(ctx context.Context, key TriggerKey) (inserted bool, err error)
}

// ChannelResolver lists the channels attached to a monitor.
type ChannelResolver interface {
	ListChannelsForMonitor(ctx context.Context, monitorID int64) ([]ChannelRecord, error)
}

// ResultSink receives every dispatch result that reached the fan-out stage.
type ResultSink interface {
	Publish(ctx context.Context, r Result) error
}

// Dispatcher delivers events to a monitor's channels at most once per
// TriggerKey. It is safe for concurrent use.
type Dispatcher struct {
	resolver    ChannelResolver
	triggers    TriggerStore
	registry    *Registry
	sink        ResultSink
	concurrency int
	timeout     time.Duration
	region      string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithConcurrency bounds the number of channels sent to in parallel.
func WithConcurrency(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithTimeout sets the per-channel send deadline.
func WithTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithSink publishes every result to s.
func WithSink(s ResultSink) DispatcherOption {
	return func(d *Dispatcher) { d.sink = s }
}

// WithRegion fills Event.Region when the caller leaves it empty.
func WithRegion(region string) DispatcherOption {
	return func(d *Dispatcher) { d.region = region }
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(resolver ChannelResolver, triggers TriggerStore, registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		resolver:    resolver,
		triggers:    triggers,
		registry:    registry,
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger resolves the monitor's channels, claims the trigger key and fans the
// event out to every channel. Channel failures are reported in the Result;
// only resolver and store failures are returned as errors.
func (d *Dispatcher) Trigger(ctx context.Context, ev Event) (Result, error) {
	res := Result{
		MonitorID:     ev.MonitorID,
		EventType:     ev.Type,
		CronTimestamp: ev.CronTimestamp,
		Channels:      []ChannelResult{},
	}
	if !ev.Type.Valid() {
		return res, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	logger := slog.With(
		"monitor_id", ev.MonitorID,
		"event_type", ev.Type,
		"cron_timestamp", ev.CronTimestamp,
	)

	records, err := d.resolver.ListChannelsForMonitor(ctx, ev.MonitorID)
	if err != nil {
		return res, fmt.Errorf("resolve channels: %w", err)
	}
	if len(records) == 0 {
		logger.Debug("monitor has no channels, skipping dispatch")
		return res, nil
	}

	inserted, err := d.triggers.InsertIfAbsent(ctx, TriggerKey{
		MonitorID:     ev.MonitorID,
		CronTimestamp: ev.CronTimestamp,
		EventType:     ev.Type,
	})
	if err != nil {
		return res, fmt.Errorf("claim trigger: %w", err)
	}
	if !inserted {
		logger.Debug("trigger already dispatched")
		res.Duplicate = true
		return res, nil
	}

	res.ID = uuid.New()
	if ev.Region == "" {
		ev.Region = d.region
	}
	res.Channels = d.fanOut(ctx, ev, records, logger)

	if d.sink != nil {
		if err := d.sink.Publish(ctx, res); err != nil {
			logger.Warn("publish dispatch result failed", "dispatch_id", res.ID, "error", err)
		}
	}
	return res, nil
}

// fanOut sends to every record concurrently. Each goroutine owns one slot of
// the result slice so resolution order is preserved.
func (d *Dispatcher) fanOut(ctx context.Context, ev Event, records []ChannelRecord, logger *slog.Logger) []ChannelResult {
	results := make([]ChannelResult, len(records))
	p := pool.New().WithMaxGoroutines(d.concurrency)
	for i, rec := range records {
		p.Go(func() {
			err := d.deliver(ctx, ev, rec)
			r := ChannelResult{ChannelID: rec.ID, Provider: rec.Provider, Outcome: OutcomeSuccess}
			attrs := []any{"channel_id", rec.ID, "provider", rec.Provider}
			if err != nil {
				r.Outcome = OutcomeFailure
				r.Error = err.Error()
				logger.Error("notification send failed", append(attrs, "error", err)...)
			} else {
				logger.Info("notification sent", attrs...)
			}
			results[i] = r
		})
	}
	p.Wait()
	return results
}

// deliver decodes one channel and invokes its adapter, converting a panic
// into an error.
func (d *Dispatcher) deliver(ctx context.Context, ev Event, rec ChannelRecord) (err error) {
	ch, err := DecodeChannel(rec)
	if err != nil {
		return err
	}
	adapter, ok := d.registry.Adapter(ch.Provider)
	if !ok {
		return fmt.Errorf("%w: no adapter for %q", ErrUnknownProvider, ch.Provider)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	n := Notification{
		Monitor:       ev.Monitor,
		Channel:       ch,
		Type:          ev.Type,
		StatusCode:    ev.StatusCode,
		Message:       ev.Message,
		IncidentID:    ev.IncidentID,
		CronTimestamp: ev.CronTimestamp,
		Latency:       ev.Latency,
		Region:        ev.Region,
	}
	if n.Monitor.ID == 0 {
		n.Monitor.ID = ev.MonitorID
	}

	var pc panics.Catcher
	pc.Try(func() { err = send(sendCtx, adapter, n) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("adapter panicked: %w", r.AsError())
	}
	return err
}
