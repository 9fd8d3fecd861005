package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

const maxTrackerDays = 365

// trackerWindow returns [from, to) covering the last days calendar days in
// loc, today included.
func trackerWindow(now time.Time, loc *time.Location, days int) (time.Time, time.Time) {
	t := now.In(loc)
	today := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -(days - 1)), today.AddDate(0, 0, 1)
}

// fillDays returns one aggregate per day starting at from, with empty
// buckets for days that have no stored checks.
func fillDays(aggs []status.CheckAggregate, from time.Time, days int) []status.CheckAggregate {
	loc := from.Location()
	byDay := make(map[string]status.CheckAggregate, len(aggs))
	for _, a := range aggs {
		key := status.DateKey(a.BucketStart.In(loc))
		prev := byDay[key]
		prev.OK += a.OK
		prev.Count += a.Count
		byDay[key] = prev
	}

	out := make([]status.CheckAggregate, days)
	for i := range days {
		d := from.AddDate(0, 0, i)
		a := byDay[status.DateKey(d)]
		a.BucketStart = d
		out[i] = a
	}
	return out
}

// MonitorTracker serves the day-bucketed status history of one monitor.
func (h *Handlers) MonitorTracker(w http.ResponseWriter, r *http.Request) {
	m := monitorFrom(r.Context())
	cfg := h.cfgMgr.Get()
	days := queryInt(r, "days", cfg.System.TrackerDays, 1, maxTrackerDays)
	from, to := trackerWindow(h.now(), cfg.Location(), days)

	ctx := r.Context()
	aggs, err := h.store.ListAggregates(ctx, m.ID, from, to)
	if err != nil {
		h.internalError(w, "list aggregates", err)
		return
	}
	incidents, err := h.store.ListIncidents(ctx, m.ID, from)
	if err != nil {
		h.internalError(w, "list incidents", err)
		return
	}
	reports, err := h.store.ListStatusReports(ctx, m.ID)
	if err != nil {
		h.internalError(w, "list status reports", err)
		return
	}

	res := h.tracker.Compute(fillDays(aggs, from, days), incidents, reports)
	writeJSON(w, http.StatusOK, map[string]any{
		"monitor_id": m.ID,
		"from":       from,
		"to":         to,
		"tracker":    res,
	})
}

type trackerRequest struct {
	Data          []status.CheckAggregate `json:"data"`
	Incidents     []status.Incident       `json:"incidents"`
	StatusReports []status.StatusReport   `json:"statusReports"`
}

// ComputeTracker runs the tracker over caller-supplied data.
func (h *Handlers) ComputeTracker(w http.ResponseWriter, r *http.Request) {
	var req trackerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i, b := range req.Data {
		if b.OK < 0 || b.Count < 0 || b.OK > b.Count {
			writeError(w, http.StatusBadRequest, "data["+strconv.Itoa(i)+"]: need 0 <= ok <= count")
			return
		}
	}
	writeJSON(w, http.StatusOK, h.tracker.Compute(req.Data, req.Incidents, req.StatusReports))
}

func (h *Handlers) MonitorIncidents(w http.ResponseWriter, r *http.Request) {
	m := monitorFrom(r.Context())
	cfg := h.cfgMgr.Get()
	days := queryInt(r, "days", cfg.System.TrackerDays, 1, maxTrackerDays)
	from, _ := trackerWindow(h.now(), cfg.Location(), days)

	incidents, err := h.store.ListIncidents(r.Context(), m.ID, from)
	if err != nil {
		h.internalError(w, "list incidents", err)
		return
	}
	if incidents == nil {
		incidents = []status.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (h *Handlers) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	inc, err := h.store.AcknowledgeIncident(r.Context(), id, h.now())
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	if err != nil {
		h.internalError(w, "acknowledge incident", err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *Handlers) ListStatusReports(w http.ResponseWriter, r *http.Request) {
	var monitorID int64
	if v := r.URL.Query().Get("monitor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid monitor_id")
			return
		}
		monitorID = id
	}
	reports, err := h.store.ListStatusReports(r.Context(), monitorID)
	if err != nil {
		h.internalError(w, "list status reports", err)
		return
	}
	if reports == nil {
		reports = []status.StatusReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status_reports": reports})
}

type createReportRequest struct {
	Title      string                      `json:"title"`
	Status     status.ReportStatus         `json:"status"`
	Updates    []status.StatusReportUpdate `json:"updates"`
	MonitorIDs []int64                     `json:"monitor_ids"`
}

func (h *Handlers) CreateStatusReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(req.Status)))
		return
	}
	for _, u := range req.Updates {
		if u.Status != "" && !u.Status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown update status "+strconv.Quote(string(u.Status)))
			return
		}
	}
	cfg := h.cfgMgr.Get()
	for _, id := range req.MonitorIDs {
		if _, ok := cfg.FindMonitor(id); !ok {
			writeError(w, http.StatusBadRequest, "unknown monitor "+strconv.FormatInt(id, 10))
			return
		}
	}

	report, err := h.store.CreateStatusReport(r.Context(), status.StatusReport{
		Title:   req.Title,
		Status:  req.Status,
		Updates: req.Updates,
	}, req.MonitorIDs)
	if err != nil {
		h.internalError(w, "create status report", err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *Handlers) AddStatusReportUpdate(w http.ResponseWriter, r *http.Request) {
	var u status.StatusReportUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !u.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status must be investigating, identified, monitoring or resolved")
		return
	}
	report, err := h.store.AddStatusReportUpdate(r.Context(), chi.URLParam(r, "id"), u)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "status report not found")
		return
	}
	if err != nil {
		h.internalError(w, "add status report update", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
