package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migrations are applied in order; the database's user_version records how
// many have run. Append only.
var migrations = []string{
	// 1: triggers, channels and links
	`CREATE TABLE IF NOT EXISTS dispatch_trigger (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id     INTEGER NOT NULL,
		cron_timestamp INTEGER NOT NULL,
		event_type     TEXT    NOT NULL,
		created_at     INTEGER NOT NULL,
		UNIQUE (monitor_id, cron_timestamp, event_type)
	);
	CREATE TABLE IF NOT EXISTS notification (
		id       INTEGER PRIMARY KEY,
		name     TEXT NOT NULL,
		provider TEXT NOT NULL,
		data     TEXT NOT NULL DEFAULT '{}'
	);
	CREATE TABLE IF NOT EXISTS notifications_to_monitors (
		notification_id INTEGER NOT NULL REFERENCES notification(id) ON DELETE CASCADE,
		monitor_id      INTEGER NOT NULL,
		PRIMARY KEY (notification_id, monitor_id)
	);
	CREATE INDEX IF NOT EXISTS idx_ntm_monitor ON notifications_to_monitors(monitor_id);`,

	// 2: check aggregates and incidents
	`CREATE TABLE IF NOT EXISTS check_aggregate (
		monitor_id   INTEGER NOT NULL,
		bucket_start INTEGER NOT NULL,
		ok           INTEGER NOT NULL DEFAULT 0,
		count        INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (monitor_id, bucket_start)
	);
	CREATE TABLE IF NOT EXISTS incident (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		monitor_id      INTEGER NOT NULL,
		started_at      INTEGER NOT NULL,
		resolved_at     INTEGER,
		acknowledged_at INTEGER,
		cause           TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_incident_monitor ON incident(monitor_id, started_at);`,

	// 3: status reports
	`CREATE TABLE IF NOT EXISTS status_report (
		id     TEXT PRIMARY KEY,
		title  TEXT NOT NULL,
		status TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS status_report_update (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		report_id TEXT    NOT NULL REFERENCES status_report(id) ON DELETE CASCADE,
		status    TEXT    NOT NULL,
		message   TEXT    NOT NULL DEFAULT '',
		date      INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS status_report_to_monitors (
		report_id  TEXT    NOT NULL REFERENCES status_report(id) ON DELETE CASCADE,
		monitor_id INTEGER NOT NULL,
		PRIMARY KEY (report_id, monitor_id)
	);`,
}

// migrate runs every migration newer than the stored schema version.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	slog.Info("migrating sqlite schema", "from_version", version, "to_version", len(migrations))
	for v := version; v < len(migrations); v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", v+1, err)
		}
	}
	return nil
}
