// Package sqlite is the default storage backend, built on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

// Store implements storage.Store on a single SQLite connection.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func ms(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMs(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMs(v.Int64)
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// InsertIfAbsent claims a trigger key. The unique constraint makes the insert
// the only arbiter between concurrent callers.
func (s *Store) InsertIfAbsent(ctx context.Context, key notify.TriggerKey) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_trigger (monitor_id, cron_timestamp, event_type, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (monitor_id, cron_timestamp, event_type) DO NOTHING`,
		key.MonitorID, key.CronTimestamp, string(key.EventType), ms(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert trigger: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ListTriggers(ctx context.Context, monitorID int64, limit int) ([]storage.TriggerRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, monitor_id, cron_timestamp, event_type, created_at
		 FROM dispatch_trigger
		 WHERE monitor_id = ?
		 ORDER BY cron_timestamp DESC, id DESC
		 LIMIT ?`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	out := []storage.TriggerRecord{}
	for rows.Next() {
		var (
			r       storage.TriggerRecord
			evType  string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.MonitorID, &r.CronTimestamp, &evType, &created); err != nil {
			return nil, err
		}
		r.EventType = notify.EventType(evType)
		r.CreatedAt = fromMs(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListChannelsForMonitor returns the monitor's channels ordered by id.
func (s *Store) ListChannelsForMonitor(ctx context.Context, monitorID int64) ([]notify.ChannelRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.name, n.provider, n.data
		 FROM notification n
		 JOIN notifications_to_monitors ntm ON ntm.notification_id = n.id
		 WHERE ntm.monitor_id = ?
		 ORDER BY n.id`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []notify.ChannelRecord
	for rows.Next() {
		var (
			rec      notify.ChannelRecord
			provider string
			data     string
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &provider, &data); err != nil {
			return nil, err
		}
		rec.Provider = notify.Provider(provider)
		rec.Data = []byte(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) SyncChannels(ctx context.Context, channels []notify.ChannelRecord, links map[int64][]int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications_to_monitors`); err != nil {
		return fmt.Errorf("clear channel links: %w", err)
	}

	ids := make([]any, 0, len(channels))
	for _, ch := range channels {
		data := string(ch.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notification (id, name, provider, data) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, provider = excluded.provider, data = excluded.data`,
			ch.ID, ch.Name, string(ch.Provider), data,
		); err != nil {
			return fmt.Errorf("upsert channel %d: %w", ch.ID, err)
		}
		ids = append(ids, ch.ID)
	}

	if len(ids) == 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM notification`)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM notification WHERE id NOT IN (`+placeholders(len(ids))+`)`, ids...)
	}
	if err != nil {
		return fmt.Errorf("prune channels: %w", err)
	}

	for monitorID, channelIDs := range links {
		for _, id := range channelIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO notifications_to_monitors (notification_id, monitor_id) VALUES (?, ?)
				 ON CONFLICT DO NOTHING`, id, monitorID,
			); err != nil {
				return fmt.Errorf("link channel %d to monitor %d: %w", id, monitorID, err)
			}
		}
	}
	return tx.Commit()
}

func (s *Store) RecordCheck(ctx context.Context, monitorID int64, bucket time.Time, ok bool) error {
	okInc := 0
	if ok {
		okInc = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_aggregate (monitor_id, bucket_start, ok, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT (monitor_id, bucket_start) DO UPDATE SET ok = ok + excluded.ok, count = count + 1`,
		monitorID, ms(bucket), okInc,
	)
	if err != nil {
		return fmt.Errorf("record check: %w", err)
	}
	return nil
}

func (s *Store) ListAggregates(ctx context.Context, monitorID int64, from, to time.Time) ([]status.CheckAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bucket_start, ok, count FROM check_aggregate
		 WHERE monitor_id = ? AND bucket_start >= ? AND bucket_start < ?
		 ORDER BY bucket_start`, monitorID, ms(from), ms(to))
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var out []status.CheckAggregate
	for rows.Next() {
		var (
			a     status.CheckAggregate
			start int64
		)
		if err := rows.Scan(&start, &a.OK, &a.Count); err != nil {
			return nil, err
		}
		a.BucketStart = fromMs(start)
		out = append(out, a)
	}
	return out, rows.Err()
}

const incidentColumns = `id, monitor_id, started_at, resolved_at, acknowledged_at, cause`

type scanner interface {
	Scan(dest ...any) error
}

func scanIncident(row scanner) (status.Incident, error) {
	var (
		inc            status.Incident
		started        int64
		resolved, ackd sql.NullInt64
	)
	if err := row.Scan(&inc.ID, &inc.MonitorID, &started, &resolved, &ackd, &inc.Cause); err != nil {
		return status.Incident{}, err
	}
	inc.StartedAt = fromMs(started)
	inc.ResolvedAt = nullableTime(resolved)
	inc.AcknowledgedAt = nullableTime(ackd)
	return inc, nil
}

func (s *Store) OpenIncident(ctx context.Context, monitorID int64, startedAt time.Time, cause string) (status.Incident, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO incident (monitor_id, started_at, cause) VALUES (?, ?, ?)`,
		monitorID, ms(startedAt), cause)
	if err != nil {
		return status.Incident{}, fmt.Errorf("open incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return status.Incident{}, fmt.Errorf("open incident: %w", err)
	}
	return status.Incident{ID: id, MonitorID: monitorID, StartedAt: fromMs(ms(startedAt)), Cause: cause}, nil
}

func (s *Store) OngoingIncident(ctx context.Context, monitorID int64) (status.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident
		 WHERE monitor_id = ? AND resolved_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, monitorID))
	if errors.Is(err, sql.ErrNoRows) {
		return status.Incident{}, storage.ErrNotFound
	}
	return inc, err
}

func (s *Store) getIncident(ctx context.Context, id int64) (status.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return status.Incident{}, storage.ErrNotFound
	}
	return inc, err
}

// ResolveIncident sets the resolution time once; resolving twice keeps the
// first time.
func (s *Store) ResolveIncident(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incident SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`, ms(at), id)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.getIncident(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AcknowledgeIncident(ctx context.Context, id int64, at time.Time) (status.Incident, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE incident SET acknowledged_at = COALESCE(acknowledged_at, ?) WHERE id = ?`, ms(at), id,
	); err != nil {
		return status.Incident{}, fmt.Errorf("acknowledge incident: %w", err)
	}
	return s.getIncident(ctx, id)
}

func (s *Store) ListIncidents(ctx context.Context, monitorID int64, since time.Time) ([]status.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incident
		 WHERE monitor_id = ? AND (resolved_at IS NULL OR resolved_at >= ?)
		 ORDER BY started_at`, monitorID, ms(since))
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []status.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
