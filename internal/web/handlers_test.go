package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makt28/uptrack/internal/config"
	"github.com/makt28/uptrack/internal/monitor"
	"github.com/makt28/uptrack/internal/notify"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage/sqlite"
)

type testEnv struct {
	srv   *httptest.Server
	store *sqlite.Store
	cfg   *config.Manager
	live  *monitor.LiveHistory
	hooks *atomic.Int32
}

func setupTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	hooks := &atomic.Int32{}
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	cfg := mgr.Get()
	cfg.System.Timezone = "UTC"
	cfg.Notifications = []config.NotificationConfig{
		{ID: 1, Name: "hook", Provider: notify.ProviderWebhook, Data: json.RawMessage(`{"url":"` + hook.URL + `"}`)},
	}
	cfg.Monitors = []config.Monitor{
		{ID: 1, Name: "api", Type: "http", Target: "https://api.example.com/health", Timeout: 10, NotificationIDs: []int64{1}},
		{ID: 2, Name: "db", Type: "tcp", Target: "db.internal:5432", Timeout: 5},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := mgr.Save(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	cfg = mgr.Get()

	store, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.SyncChannels(ctx, cfg.ChannelRecords(), cfg.ChannelLinks()); err != nil {
		t.Fatalf("sync channels: %v", err)
	}

	live := monitor.NewLiveHistory()
	router := NewRouter(Deps{
		Config:     mgr,
		Store:      store,
		Dispatcher: notify.NewDispatcher(store, store, notify.DefaultRegistry(hook.Client())),
		Live:       live,
		Tracker:    status.NewTracker(status.WithBlacklist(status.Blacklist{}), status.WithLocation(cfg.Location())),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, cfg: mgr, live: live, hooks: hooks}
}

// call sends body as JSON (when non-nil) and decodes the response into out.
func (e *testEnv) call(t *testing.T, method, path string, body any, out any, header ...string) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	env := setupTestEnv(t, nil)
	var body map[string]any
	if code := env.call(t, "GET", "/healthz", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" || body["monitor_count"] != float64(2) || body["channel_count"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	const key = "uptrack-test-key-0123456789"
	hash, err := config.HashAPIKey(key)
	if err != nil {
		t.Fatal(err)
	}
	env := setupTestEnv(t, func(c *config.Config) { c.Auth.APIKeyHash = hash })

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic " + key}, http.StatusUnauthorized},
		{"wrong key", []string{"Authorization", "Bearer not-the-key-at-all"}, http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer " + key}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.call(t, "GET", "/api/monitors", nil, nil, tt.header...); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	if code := env.call(t, "GET", "/healthz", nil, nil); code != http.StatusOK {
		t.Errorf("healthz must stay public, got %d", code)
	}
}

func TestAuthMiddleware_LocksOutAfterFailedKeys(t *testing.T) {
	const key = "uptrack-test-key-0123456789"
	hash, err := config.HashAPIKey(key)
	if err != nil {
		t.Fatal(err)
	}
	env := setupTestEnv(t, func(c *config.Config) {
		c.Auth.APIKeyHash = hash
		c.Auth.MaxFailedAttempts = 3
	})

	const attacker = "203.0.113.7"
	for i := 0; i < 3; i++ {
		code := env.call(t, "GET", "/api/monitors", nil, nil,
			"X-Real-IP", attacker, "Authorization", "Bearer wrong-key-"+strconv.Itoa(i))
		if code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, code)
		}
	}

	code := env.call(t, "GET", "/api/monitors", nil, nil, "X-Real-IP", attacker, "Authorization", "Bearer "+key)
	if code != http.StatusTooManyRequests {
		t.Errorf("locked ip with valid key: status = %d, want 429", code)
	}

	code = env.call(t, "GET", "/api/monitors", nil, nil, "X-Real-IP", "203.0.113.8", "Authorization", "Bearer "+key)
	if code != http.StatusOK {
		t.Errorf("other ip: status = %d, want 200", code)
	}
}

func TestAPIMonitors(t *testing.T) {
	env := setupTestEnv(t, nil)
	now := time.Now()
	env.live.Record(1, now.Add(-time.Minute), 40*time.Millisecond, true, monitor.StateOperational)
	env.live.Record(1, now, 55*time.Millisecond, false, monitor.StateDown)

	var body struct {
		Monitors []apiMonitorView `json:"monitors"`
		Total    int              `json:"total"`
	}
	if code := env.call(t, "GET", "/api/monitors?points=1", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Total != 2 || len(body.Monitors) != 2 {
		t.Fatalf("body = %+v", body)
	}
	api, db := body.Monitors[0], body.Monitors[1]
	if api.State != monitor.StateDown || api.Uptime24h != 50 || api.ResponseTime != 55 || len(api.Heartbeats) != 1 {
		t.Errorf("api view = %+v", api)
	}
	if api.Interval != 60 || len(api.NotificationIDs) != 1 {
		t.Errorf("api config view = %+v", api)
	}
	if db.HasHistory || db.State != monitor.StateOperational || db.Uptime24h != 100 {
		t.Errorf("db view = %+v", db)
	}
}

func TestMonitorRoutes_BadID(t *testing.T) {
	env := setupTestEnv(t, nil)
	if code := env.call(t, "GET", "/api/monitors/abc", nil, nil); code != http.StatusBadRequest {
		t.Errorf("non-numeric id: status = %d", code)
	}
	if code := env.call(t, "GET", "/api/monitors/99/tracker", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown monitor: status = %d", code)
	}
}

func TestMonitorDetail_OngoingIncident(t *testing.T) {
	env := setupTestEnv(t, nil)
	if _, err := env.store.OpenIncident(context.Background(), 1, time.Now().Add(-time.Hour), "HTTP 503"); err != nil {
		t.Fatal(err)
	}
	var view apiDetailView
	if code := env.call(t, "GET", "/api/monitors/1", nil, &view); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if view.Ongoing == nil || view.Ongoing.Cause != "HTTP 503" || view.Timeout != 10 {
		t.Errorf("view = %+v", view)
	}
}

func TestToggleMonitor(t *testing.T) {
	env := setupTestEnv(t, nil)
	changes := env.cfg.Subscribe()

	var body map[string]bool
	if code := env.call(t, "POST", "/api/monitors/2/toggle", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["enabled"] {
		t.Errorf("first toggle must pause, got %v", body)
	}
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("toggle did not signal a config change")
	}
	cfg := env.cfg.Get()
	if m, _ := cfg.FindMonitor(2); m.IsEnabled() {
		t.Error("monitor 2 still enabled in config")
	}

	env.call(t, "POST", "/api/monitors/2/toggle", nil, &body)
	if !body["enabled"] {
		t.Errorf("second toggle must resume, got %v", body)
	}
}

func TestComputeTracker(t *testing.T) {
	env := setupTestEnv(t, nil)
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	req := map[string]any{
		"data": []status.CheckAggregate{
			{BucketStart: day(1), OK: 100, Count: 100},
			{BucketStart: day(2), OK: 0, Count: 0},
			{BucketStart: day(3), OK: 50, Count: 100},
		},
	}

	var res status.Result
	if code := env.call(t, "POST", "/api/tracker", req, &res); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.TotalUptime != 75 || res.CurrentStatus != status.DegradedPerformance {
		t.Errorf("total = %v, current = %q", res.TotalUptime, res.CurrentStatus)
	}
	want := []status.Status{status.Operational, status.Unknown, status.PartialOutage}
	if len(res.Days) != len(want) {
		t.Fatalf("days = %d, want %d", len(res.Days), len(want))
	}
	for i, w := range want {
		if res.Days[i].Status != w {
			t.Errorf("day %d = %q, want %q", i, res.Days[i].Status, w)
		}
	}

	bad := map[string]any{"data": []status.CheckAggregate{{BucketStart: day(1), OK: 5, Count: 4}}}
	if code := env.call(t, "POST", "/api/tracker", bad, nil); code != http.StatusBadRequest {
		t.Errorf("ok > count: status = %d", code)
	}
}

func TestMonitorTracker_FillsMissingDays(t *testing.T) {
	env := setupTestEnv(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, ok := range []bool{true, true, false} {
		if err := env.store.RecordCheck(ctx, 1, today, ok); err != nil {
			t.Fatal(err)
		}
	}

	var body struct {
		Tracker status.Result `json:"tracker"`
	}
	if code := env.call(t, "GET", "/api/monitors/1/tracker?days=3", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	days := body.Tracker.Days
	if len(days) != 3 {
		t.Fatalf("days = %d, want 3", len(days))
	}
	if days[0].Status != status.Unknown || days[1].Status != status.Unknown {
		t.Errorf("empty days = %q, %q", days[0].Status, days[1].Status)
	}
	if !days[2].Day.Equal(today) || days[2].Count != 3 || days[2].OK != 2 {
		t.Errorf("today = %+v", days[2])
	}
	if body.Tracker.TotalUptime != 66.67 {
		t.Errorf("total uptime = %v, want 66.67", body.Tracker.TotalUptime)
	}
}

func TestTriggerEvent(t *testing.T) {
	env := setupTestEnv(t, nil)
	req := map[string]any{"event_type": "alert", "cron_timestamp": 9000001, "status_code": 503, "message": "HTTP 503"}

	var first notify.Result
	if code := env.call(t, "POST", "/api/monitors/1/trigger", req, &first); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if first.Duplicate || len(first.Channels) != 1 || first.Channels[0].Outcome != notify.OutcomeSuccess {
		t.Fatalf("first = %+v", first)
	}

	var second notify.Result
	if code := env.call(t, "POST", "/api/monitors/1/trigger", req, &second); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !second.Duplicate || len(second.Channels) != 0 {
		t.Errorf("second = %+v", second)
	}
	if got := env.hooks.Load(); got != 1 {
		t.Errorf("webhook deliveries = %d, want 1", got)
	}

	var listed struct {
		Triggers []struct {
			CronTimestamp int64            `json:"cron_timestamp"`
			EventType     notify.EventType `json:"event_type"`
		} `json:"triggers"`
	}
	if code := env.call(t, "GET", "/api/monitors/1/triggers", nil, &listed); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(listed.Triggers) != 1 || listed.Triggers[0].CronTimestamp != 9000001 || listed.Triggers[0].EventType != notify.EventAlert {
		t.Errorf("triggers = %+v", listed.Triggers)
	}

	if code := env.call(t, "POST", "/api/monitors/1/trigger", map[string]any{"event_type": "reboot"}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown event: status = %d", code)
	}
	if code := env.call(t, "POST", "/api/monitors/1/trigger", map[string]any{"event_type": "alert", "extra": 1}, nil); code != http.StatusBadRequest {
		t.Errorf("unknown field: status = %d", code)
	}
}

func TestTriggerEvent_ManualKeepsOutOfSchedulerTicks(t *testing.T) {
	env := setupTestEnv(t, nil)

	var manual notify.Result
	if code := env.call(t, "POST", "/api/monitors/1/trigger", map[string]any{"event_type": "alert"}, &manual); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if manual.Duplicate || len(manual.Channels) != 1 {
		t.Fatalf("manual = %+v", manual)
	}

	var listed struct {
		Triggers []struct {
			CronTimestamp int64 `json:"cron_timestamp"`
		} `json:"triggers"`
	}
	env.call(t, "GET", "/api/monitors/1/triggers", nil, &listed)
	if len(listed.Triggers) != 1 || listed.Triggers[0].CronTimestamp >= 0 {
		t.Fatalf("manual trigger must claim a negative tick, got %+v", listed.Triggers)
	}

	// The scheduler's alert for the same tick still goes out.
	tick := -listed.Triggers[0].CronTimestamp
	var scheduled notify.Result
	req := map[string]any{"event_type": "alert", "cron_timestamp": tick}
	if code := env.call(t, "POST", "/api/monitors/1/trigger", req, &scheduled); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if scheduled.Duplicate {
		t.Error("manual trigger swallowed the scheduler's alert")
	}
	if got := env.hooks.Load(); got != 2 {
		t.Errorf("webhook deliveries = %d, want 2", got)
	}
}

func TestAcknowledgeIncident(t *testing.T) {
	env := setupTestEnv(t, nil)
	inc, err := env.store.OpenIncident(context.Background(), 1, time.Now().Add(-10*time.Minute), "timeout")
	if err != nil {
		t.Fatal(err)
	}

	var got status.Incident
	if code := env.call(t, "POST", "/api/incidents/"+strconv.FormatInt(inc.ID, 10)+"/acknowledge", nil, &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.AcknowledgedAt == nil || got.ResolvedAt != nil {
		t.Errorf("incident = %+v", got)
	}

	if code := env.call(t, "POST", "/api/incidents/999/acknowledge", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown incident: status = %d", code)
	}

	var list struct {
		Incidents []status.Incident `json:"incidents"`
	}
	if code := env.call(t, "GET", "/api/monitors/1/incidents", nil, &list); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(list.Incidents) != 1 || list.Incidents[0].ID != inc.ID {
		t.Errorf("incidents = %+v", list.Incidents)
	}
}

func TestStatusReports(t *testing.T) {
	env := setupTestEnv(t, nil)

	create := map[string]any{
		"title":       "Elevated API errors",
		"monitor_ids": []int64{1},
		"updates":     []map[string]any{{"status": "identified", "message": "Bad deploy rolled back"}},
	}
	var report status.StatusReport
	if code := env.call(t, "POST", "/api/status-reports", create, &report); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if report.ID == "" || report.Status != status.ReportIdentified || len(report.Updates) != 1 {
		t.Fatalf("report = %+v", report)
	}

	update := map[string]any{"status": "resolved", "message": "Error rate back to normal"}
	var updated status.StatusReport
	if code := env.call(t, "POST", "/api/status-reports/"+report.ID+"/updates", update, &updated); code != http.StatusOK {
		t.Fatalf("update status = %d", code)
	}
	if updated.Status != status.ReportResolved || len(updated.Updates) != 2 {
		t.Errorf("updated = %+v", updated)
	}

	var list struct {
		Reports []status.StatusReport `json:"status_reports"`
	}
	env.call(t, "GET", "/api/status-reports?monitor_id=1", nil, &list)
	if len(list.Reports) != 1 {
		t.Errorf("reports for monitor 1 = %d, want 1", len(list.Reports))
	}
	env.call(t, "GET", "/api/status-reports?monitor_id=2", nil, &list)
	if len(list.Reports) != 0 {
		t.Errorf("reports for monitor 2 = %d, want 0", len(list.Reports))
	}

	tests := []struct {
		name string
		path string
		body map[string]any
		want int
	}{
		{"missing title", "/api/status-reports", map[string]any{"title": " "}, http.StatusBadRequest},
		{"bad status", "/api/status-reports", map[string]any{"title": "x", "status": "panicking"}, http.StatusBadRequest},
		{"unknown monitor", "/api/status-reports", map[string]any{"title": "x", "monitor_ids": []int64{42}}, http.StatusBadRequest},
		{"unknown report", "/api/status-reports/nope/updates", map[string]any{"status": "resolved"}, http.StatusNotFound},
		{"update without status", "/api/status-reports/" + report.ID + "/updates", map[string]any{"message": "hi"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := env.call(t, "POST", tt.path, tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestFillDays(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	now := time.Date(2024, 3, 31, 15, 0, 0, 0, loc) // DST switch day
	from, to := trackerWindow(now, loc, 3)
	if want := time.Date(2024, 3, 29, 0, 0, 0, 0, loc); !from.Equal(want) {
		t.Errorf("from = %v, want %v", from, want)
	}
	if want := time.Date(2024, 4, 1, 0, 0, 0, 0, loc); !to.Equal(want) {
		t.Errorf("to = %v, want %v", to, want)
	}

	aggs := []status.CheckAggregate{{BucketStart: time.Date(2024, 3, 30, 0, 0, 0, 0, loc).UTC(), OK: 9, Count: 10}}
	got := fillDays(aggs, from, 3)
	if len(got) != 3 || got[0].Count != 0 || got[1].OK != 9 || got[2].Count != 0 {
		t.Errorf("fillDays = %+v", got)
	}
	if !got[2].BucketStart.Equal(time.Date(2024, 3, 31, 0, 0, 0, 0, loc)) {
		t.Errorf("last bucket = %v", got[2].BucketStart)
	}
}
