package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

func (s *Store) CreateStatusReport(ctx context.Context, r status.StatusReport, monitorIDs []int64) (status.StatusReport, error) {
	r = storage.PrepareReport(r, uuid.NewString)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return status.StatusReport{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO status_report (id, title, status) VALUES ($1, $2, $3)`,
		r.ID, r.Title, string(r.Status),
	); err != nil {
		return status.StatusReport{}, fmt.Errorf("insert status report: %w", err)
	}
	for _, u := range r.Updates {
		if err := insertUpdate(ctx, tx, r.ID, u); err != nil {
			return status.StatusReport{}, err
		}
	}
	for _, id := range monitorIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO status_report_to_monitors (report_id, monitor_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, r.ID, id,
		); err != nil {
			return status.StatusReport{}, fmt.Errorf("link status report: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return status.StatusReport{}, err
	}
	return r, nil
}

func insertUpdate(ctx context.Context, tx pgx.Tx, reportID string, u status.StatusReportUpdate) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO status_report_update (report_id, status, message, date) VALUES ($1, $2, $3, $4)`,
		reportID, string(u.Status), u.Message, u.Date,
	); err != nil {
		return fmt.Errorf("insert status report update: %w", err)
	}
	return nil
}

func (s *Store) AddStatusReportUpdate(ctx context.Context, reportID string, u status.StatusReportUpdate) (status.StatusReport, error) {
	if u.Date.IsZero() {
		u.Date = time.Now().UTC()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return status.StatusReport{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE status_report SET status = $1 WHERE id = $2`, string(u.Status), reportID)
	if err != nil {
		return status.StatusReport{}, fmt.Errorf("update status report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return status.StatusReport{}, storage.ErrNotFound
	}
	if err := insertUpdate(ctx, tx, reportID, u); err != nil {
		return status.StatusReport{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return status.StatusReport{}, err
	}

	reports, err := s.queryReports(ctx, `SELECT id, title, status FROM status_report WHERE id = $1`, reportID)
	if err != nil {
		return status.StatusReport{}, err
	}
	if len(reports) == 0 {
		return status.StatusReport{}, storage.ErrNotFound
	}
	return reports[0], nil
}

func (s *Store) ListStatusReports(ctx context.Context, monitorID int64) ([]status.StatusReport, error) {
	if monitorID == 0 {
		return s.queryReports(ctx, `SELECT id, title, status FROM status_report ORDER BY id`)
	}
	return s.queryReports(ctx,
		`SELECT r.id, r.title, r.status FROM status_report r
		 JOIN status_report_to_monitors m ON m.report_id = r.id
		 WHERE m.monitor_id = $1
		 ORDER BY r.id`, monitorID)
}

func (s *Store) queryReports(ctx context.Context, query string, args ...any) ([]status.StatusReport, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status reports: %w", err)
	}
	reports, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (status.StatusReport, error) {
		var (
			r  status.StatusReport
			st string
		)
		err := row.Scan(&r.ID, &r.Title, &st)
		r.Status = status.ReportStatus(st)
		r.Updates = []status.StatusReportUpdate{}
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("list status reports: %w", err)
	}
	if len(reports) == 0 {
		return []status.StatusReport{}, nil
	}

	index := make(map[string]int, len(reports))
	ids := make([]string, len(reports))
	for i, r := range reports {
		index[r.ID] = i
		ids[i] = r.ID
	}
	urows, err := s.pool.Query(ctx,
		`SELECT report_id, status, message, date FROM status_report_update
		 WHERE report_id = ANY($1)
		 ORDER BY date, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list status report updates: %w", err)
	}
	defer urows.Close()
	for urows.Next() {
		var (
			reportID, st string
			u            status.StatusReportUpdate
		)
		if err := urows.Scan(&reportID, &st, &u.Message, &u.Date); err != nil {
			return nil, err
		}
		u.Status = status.ReportStatus(st)
		u.Date = u.Date.UTC()
		if i, ok := index[reportID]; ok {
			reports[i].Updates = append(reports[i].Updates, u)
		}
	}
	return reports, urows.Err()
}
