// Package postgres is the PostgreSQL storage backend, selected when the
// database URL is a postgres:// DSN.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Connect opens a pool, checks connectivity and migrates the schema.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS dispatch_trigger (
			id             BIGSERIAL PRIMARY KEY,
			monitor_id     BIGINT      NOT NULL,
			cron_timestamp BIGINT      NOT NULL,
			event_type     TEXT        NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (monitor_id, cron_timestamp, event_type)
		);

		CREATE TABLE IF NOT EXISTS notification (
			id       BIGINT PRIMARY KEY,
			name     TEXT   NOT NULL,
			provider TEXT   NOT NULL,
			data     JSONB  NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS notifications_to_monitors (
			notification_id BIGINT NOT NULL REFERENCES notification(id) ON DELETE CASCADE,
			monitor_id      BIGINT NOT NULL,
			PRIMARY KEY (notification_id, monitor_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ntm_monitor ON notifications_to_monitors(monitor_id);

		CREATE TABLE IF NOT EXISTS check_aggregate (
			monitor_id   BIGINT      NOT NULL,
			bucket_start TIMESTAMPTZ NOT NULL,
			ok           BIGINT      NOT NULL DEFAULT 0,
			count        BIGINT      NOT NULL DEFAULT 0,
			PRIMARY KEY (monitor_id, bucket_start)
		);

		CREATE TABLE IF NOT EXISTS incident (
			id              BIGSERIAL PRIMARY KEY,
			monitor_id      BIGINT      NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL,
			resolved_at     TIMESTAMPTZ,
			acknowledged_at TIMESTAMPTZ,
			cause           TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_incident_monitor ON incident(monitor_id, started_at);

		CREATE TABLE IF NOT EXISTS status_report (
			id     TEXT PRIMARY KEY,
			title  TEXT NOT NULL,
			status TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS status_report_update (
			id        BIGSERIAL PRIMARY KEY,
			report_id TEXT        NOT NULL REFERENCES status_report(id) ON DELETE CASCADE,
			status    TEXT        NOT NULL,
			message   TEXT        NOT NULL DEFAULT '',
			date      TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS status_report_to_monitors (
			report_id  TEXT   NOT NULL REFERENCES status_report(id) ON DELETE CASCADE,
			monitor_id BIGINT NOT NULL,
			PRIMARY KEY (report_id, monitor_id)
		);
	`)
	return err
}

func (s *Store) InsertIfAbsent(ctx context.Context, key notify.TriggerKey) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dispatch_trigger (monitor_id, cron_timestamp, event_type)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (monitor_id, cron_timestamp, event_type) DO NOTHING`,
		key.MonitorID, key.CronTimestamp, string(key.EventType),
	)
	if err != nil {
		return false, fmt.Errorf("insert trigger: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListTriggers(ctx context.Context, monitorID int64, limit int) ([]storage.TriggerRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, monitor_id, cron_timestamp, event_type, created_at
		 FROM dispatch_trigger
		 WHERE monitor_id = $1
		 ORDER BY cron_timestamp DESC, id DESC
		 LIMIT $2`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	out := []storage.TriggerRecord{}
	for rows.Next() {
		var (
			r      storage.TriggerRecord
			evType string
		)
		if err := rows.Scan(&r.ID, &r.MonitorID, &r.CronTimestamp, &evType, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.EventType = notify.EventType(evType)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListChannelsForMonitor(ctx context.Context, monitorID int64) ([]notify.ChannelRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT n.id, n.name, n.provider, n.data::text
		 FROM notification n
		 JOIN notifications_to_monitors ntm ON ntm.notification_id = n.id
		 WHERE ntm.monitor_id = $1
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM notifications_to_monitors`); err != nil {
		return fmt.Errorf("clear channel links: %w", err)
	}

	ids := make([]int64, 0, len(channels))
	for _, ch := range channels {
		data := string(ch.Data)
		if data == "" {
			data = "{}"
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO notification (id, name, provider, data) VALUES ($1, $2, $3, $4::jsonb)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, provider = EXCLUDED.provider, data = EXCLUDED.data`,
			ch.ID, ch.Name, string(ch.Provider), data,
		); err != nil {
			return fmt.Errorf("upsert channel %d: %w", ch.ID, err)
		}
		ids = append(ids, ch.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM notification WHERE NOT (id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("prune channels: %w", err)
	}

	batch := &pgx.Batch{}
	for monitorID, channelIDs := range links {
		for _, id := range channelIDs {
			batch.Queue(
				`INSERT INTO notifications_to_monitors (notification_id, monitor_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`, id, monitorID)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("link channels: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) RecordCheck(ctx context.Context, monitorID int64, bucket time.Time, ok bool) error {
	okInc := 0
	if ok {
		okInc = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO check_aggregate (monitor_id, bucket_start, ok, count) VALUES ($1, $2, $3, 1)
		 ON CONFLICT (monitor_id, bucket_start)
		 DO UPDATE SET ok = check_aggregate.ok + EXCLUDED.ok, count = check_aggregate.count + 1`,
		monitorID, bucket, okInc,
	)
	if err != nil {
		return fmt.Errorf("record check: %w", err)
	}
	return nil
}

func (s *Store) ListAggregates(ctx context.Context, monitorID int64, from, to time.Time) ([]status.CheckAggregate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bucket_start, ok, count FROM check_aggregate
		 WHERE monitor_id = $1 AND bucket_start >= $2 AND bucket_start < $3
		 ORDER BY bucket_start`, monitorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var out []status.CheckAggregate
	for rows.Next() {
		var a status.CheckAggregate
		if err := rows.Scan(&a.BucketStart, &a.OK, &a.Count); err != nil {
			return nil, err
		}
		a.BucketStart = a.BucketStart.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

const incidentColumns = `id, monitor_id, started_at, resolved_at, acknowledged_at, cause`

func scanIncident(row pgx.Row) (status.Incident, error) {
	var inc status.Incident
	err := row.Scan(&inc.ID, &inc.MonitorID, &inc.StartedAt, &inc.ResolvedAt, &inc.AcknowledgedAt, &inc.Cause)
	if errors.Is(err, pgx.ErrNoRows) {
		return status.Incident{}, storage.ErrNotFound
	}
	return inc, err
}

func (s *Store) OpenIncident(ctx context.Context, monitorID int64, startedAt time.Time, cause string) (status.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`INSERT INTO incident (monitor_id, started_at, cause) VALUES ($1, $2, $3)
		 RETURNING `+incidentColumns, monitorID, startedAt, cause))
	if err != nil {
		return status.Incident{}, fmt.Errorf("open incident: %w", err)
	}
	return inc, nil
}

func (s *Store) OngoingIncident(ctx context.Context, monitorID int64) (status.Incident, error) {
	return scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incident
		 WHERE monitor_id = $1 AND resolved_at IS NULL
		 ORDER BY started_at DESC LIMIT 1`, monitorID))
}

func (s *Store) ResolveIncident(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE incident SET resolved_at = $1 WHERE id = $2 AND resolved_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("resolve incident: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM incident WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
	}
	return nil
}

func (s *Store) AcknowledgeIncident(ctx context.Context, id int64, at time.Time) (status.Incident, error) {
	return scanIncident(s.pool.QueryRow(ctx,
		`UPDATE incident SET acknowledged_at = COALESCE(acknowledged_at, $1) WHERE id = $2
		 RETURNING `+incidentColumns, at, id))
}

func (s *Store) ListIncidents(ctx context.Context, monitorID int64, since time.Time) ([]status.Incident, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+incidentColumns+` FROM incident
		 WHERE monitor_id = $1 AND (resolved_at IS NULL OR resolved_at >= $2)
		 ORDER BY started_at`, monitorID, since)
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
