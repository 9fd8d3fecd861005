// Package storage defines the persistence contract shared by the SQLite and
// PostgreSQL backends.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// TriggerRecord is one claimed dispatch trigger.
type TriggerRecord struct {
	ID            int64            `json:"id"`
	MonitorID     int64            `json:"monitor_id"`
	CronTimestamp int64            `json:"cron_timestamp"`
	EventType     notify.EventType `json:"event_type"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Store is everything the service persists. Implementations must be safe for
// concurrent use.
type Store interface {
	notify.TriggerStore
	notify.ChannelResolver

	// SyncChannels replaces the channel table and the monitor links with
	// the given set. Running it twice with the same input is a no-op.
	SyncChannels(ctx context.Context, channels []notify.ChannelRecord, links map[int64][]int64) error

	// RecordCheck adds one probe outcome to the aggregate of bucket.
	RecordCheck(ctx context.Context, monitorID int64, bucket time.Time, ok bool) error
	// ListAggregates returns the buckets in [from, to) ordered by start.
	ListAggregates(ctx context.Context, monitorID int64, from, to time.Time) ([]status.CheckAggregate, error)

	OpenIncident(ctx context.Context, monitorID int64, startedAt time.Time, cause string) (status.Incident, error)
	// OngoingIncident returns the unresolved incident of a monitor or ErrNotFound.
	OngoingIncident(ctx context.Context, monitorID int64) (status.Incident, error)
	ResolveIncident(ctx context.Context, id int64, at time.Time) error
	AcknowledgeIncident(ctx context.Context, id int64, at time.Time) (status.Incident, error)
	// ListIncidents returns incidents that were open at any point since since.
	ListIncidents(ctx context.Context, monitorID int64, since time.Time) ([]status.Incident, error)

	CreateStatusReport(ctx context.Context, r status.StatusReport, monitorIDs []int64) (status.StatusReport, error)
	AddStatusReportUpdate(ctx context.Context, reportID string, u status.StatusReportUpdate) (status.StatusReport, error)
	// ListStatusReports returns reports linked to monitorID, or all when it is 0.
	ListStatusReports(ctx context.Context, monitorID int64) ([]status.StatusReport, error)

	ListTriggers(ctx context.Context, monitorID int64, limit int) ([]TriggerRecord, error)

	Close() error
}

// PrepareReport fills in what a new report may omit: an ID from newID,
// missing update dates, and a status taken from the latest update (or
// investigating when there are none).
func PrepareReport(r status.StatusReport, newID func() string) status.StatusReport {
	if r.ID == "" {
		r.ID = newID()
	}
	now := time.Now().UTC()
	updates := make([]status.StatusReportUpdate, len(r.Updates))
	var latest status.StatusReportUpdate
	for i, u := range r.Updates {
		if u.Date.IsZero() {
			u.Date = now
		}
		if u.Status == "" {
			u.Status = status.ReportInvestigating
		}
		if i == 0 || !u.Date.Before(latest.Date) {
			latest = u
		}
		updates[i] = u
	}
	r.Updates = updates
	if r.Status == "" {
		r.Status = latest.Status
		if r.Status == "" {
			r.Status = status.ReportInvestigating
		}
	}
	return r
}

// IsPostgresDSN reports whether dsn selects the PostgreSQL backend.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
