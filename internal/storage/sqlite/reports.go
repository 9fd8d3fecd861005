package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

func (s *Store) CreateStatusReport(ctx context.Context, r status.StatusReport, monitorIDs []int64) (status.StatusReport, error) {
	r = storage.PrepareReport(r, uuid.NewString)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return status.StatusReport{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO status_report (id, title, status) VALUES (?, ?, ?)`,
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
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO status_report_to_monitors (report_id, monitor_id) VALUES (?, ?)
			 ON CONFLICT DO NOTHING`, r.ID, id,
		); err != nil {
			return status.StatusReport{}, fmt.Errorf("link status report: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return status.StatusReport{}, err
	}
	return r, nil
}

func insertUpdate(ctx context.Context, tx *sql.Tx, reportID string, u status.StatusReportUpdate) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO status_report_update (report_id, status, message, date) VALUES (?, ?, ?, ?)`,
		reportID, string(u.Status), u.Message, ms(u.Date),
	); err != nil {
		return fmt.Errorf("insert status report update: %w", err)
	}
	return nil
}

// AddStatusReportUpdate appends u and moves the report to u's status.
func (s *Store) AddStatusReportUpdate(ctx context.Context, reportID string, u status.StatusReportUpdate) (status.StatusReport, error) {
	if u.Date.IsZero() {
		u.Date = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return status.StatusReport{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE status_report SET status = ? WHERE id = ?`, string(u.Status), reportID)
	if err != nil {
		return status.StatusReport{}, fmt.Errorf("update status report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return status.StatusReport{}, storage.ErrNotFound
	}
	if err := insertUpdate(ctx, tx, reportID, u); err != nil {
		return status.StatusReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return status.StatusReport{}, err
	}

	reports, err := s.queryReports(ctx, `SELECT id, title, status FROM status_report WHERE id = ?`, reportID)
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
		 WHERE m.monitor_id = ?
		 ORDER BY r.id`, monitorID)
}

// queryReports loads the selected reports and then their updates. Rows are
// fully drained before the second query since the store has one connection.
func (s *Store) queryReports(ctx context.Context, query string, args ...any) ([]status.StatusReport, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status reports: %w", err)
	}
	reports := []status.StatusReport{}
	index := map[string]int{}
	for rows.Next() {
		var (
			r  status.StatusReport
			st string
		)
		if err := rows.Scan(&r.ID, &r.Title, &st); err != nil {
			rows.Close()
			return nil, err
		}
		r.Status = status.ReportStatus(st)
		r.Updates = []status.StatusReportUpdate{}
		index[r.ID] = len(reports)
		reports = append(reports, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return reports, nil
	}

	ids := make([]any, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	urows, err := s.db.QueryContext(ctx,
		`SELECT report_id, status, message, date FROM status_report_update
		 WHERE report_id IN (`+placeholders(len(ids))+`)
		 ORDER BY date, id`, ids...)
	if err != nil {
		return nil, fmt.Errorf("list status report updates: %w", err)
	}
	defer urows.Close()
	for urows.Next() {
		var (
			reportID, st string
			u            status.StatusReportUpdate
			date         int64
		)
		if err := urows.Scan(&reportID, &st, &u.Message, &date); err != nil {
			return nil, err
		}
		u.Status = status.ReportStatus(st)
		u.Date = fromMs(date)
		i, ok := index[reportID]
		if !ok {
			return nil, errors.New("status report update without report")
		}
		reports[i].Updates = append(reports[i].Updates, u)
	}
	return reports, urows.Err()
}
