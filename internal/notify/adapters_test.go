package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type capture struct {
	mu   sync.Mutex
	reqs []capturedRequest
}

func (c *capture) at(i int) capturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqs[i]
}

// captureServer records every request and replies with status.
func captureServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.reqs = append(c.reqs, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		})
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":false,"description":"bad"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func testNotification(cfg ProviderConfig, typ EventType) Notification {
	return Notification{
		Monitor:       MonitorInfo{ID: 12, Name: "api", URL: "https://api.example.com/health"},
		Channel:       Channel{ID: 3, Provider: cfg.Provider(), Config: cfg},
		Type:          typ,
		StatusCode:    503,
		Message:       "service unavailable",
		CronTimestamp: 1710072000000,
	}
}

func decodeBody(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode body %q: %v", b, err)
	}
	return m
}

func TestSlackAdapter(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusOK)
	a := NewSlackAdapter(srv.Client())

	n := testNotification(&SlackConfig{WebhookURL: srv.URL + "/hook"}, "")
	if err := a.SendAlert(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	got := decodeBody(t, reqs.at(0).Body)
	if got["text"] != "🔴 api is down" {
		t.Errorf("text = %v", got["text"])
	}
	if reqs.at(0).Header.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", reqs.at(0).Header.Get("Content-Type"))
	}
}

func TestAdapterNon2xxIsError(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadGateway)
	a := NewDiscordAdapter(srv.Client())

	err := a.SendRecovery(context.Background(), testNotification(&DiscordConfig{WebhookURL: srv.URL}, ""))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want status 502", err)
	}
}

func TestWebhookAdapter(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusNoContent)
	a := NewWebhookAdapter(srv.Client())
	cfg := &WebhookConfig{URL: srv.URL, Method: "put", Headers: map[string]string{"X-Token": "s3cret"}, Remark: "prod"}

	if err := a.SendDegraded(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}
	req := reqs.at(0)
	if req.Method != http.MethodPut {
		t.Errorf("method = %s, want PUT", req.Method)
	}
	if req.Header.Get("X-Token") != "s3cret" {
		t.Error("custom header not forwarded")
	}
	body := decodeBody(t, req.Body)
	if body["type"] != "degraded" || body["remark"] != "prod" || body["cron_timestamp"] != float64(1710072000000) {
		t.Errorf("body = %v", body)
	}
}

func TestTelegramAdapter(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusOK)
	a := NewTelegramAdapter(srv.Client())
	cfg := &TelegramConfig{BotToken: "123:abc", ChatID: "-100", Remark: "<prod>", APIURL: srv.URL}

	if err := a.SendAlert(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}
	req := reqs.at(0)
	if req.Path != "/bot123:abc/sendMessage" {
		t.Errorf("path = %s", req.Path)
	}
	body := decodeBody(t, req.Body)
	text, _ := body["text"].(string)
	if !strings.Contains(text, "&lt;prod&gt;") || !strings.Contains(text, "Status code: 503") {
		t.Errorf("text = %q", text)
	}
}

func TestPagerDutyAdapter(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusAccepted)
	a := NewPagerDutyAdapter(srv.Client())
	cfg := &PagerDutyConfig{IntegrationKey: "rk", EventsURL: srv.URL}

	if err := a.SendDegraded(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}
	if err := a.SendRecovery(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}

	trigger := decodeBody(t, reqs.at(0).Body)
	if trigger["event_action"] != "trigger" || trigger["dedup_key"] != "monitor-12" {
		t.Errorf("trigger = %v", trigger)
	}
	payload, _ := trigger["payload"].(map[string]any)
	if payload["severity"] != "warning" {
		t.Errorf("severity = %v, want warning", payload["severity"])
	}

	resolve := decodeBody(t, reqs.at(1).Body)
	if resolve["event_action"] != "resolve" || resolve["dedup_key"] != "monitor-12" {
		t.Errorf("resolve = %v", resolve)
	}
	if _, ok := resolve["payload"]; ok {
		t.Error("resolve must not carry a payload")
	}
}

func TestOpsgenieAdapter(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusAccepted)
	a := NewOpsgenieAdapter(srv.Client())
	cfg := &OpsgenieConfig{APIKey: "gk", APIURL: srv.URL}

	if err := a.SendAlert(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}
	if err := a.SendRecovery(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}

	create := reqs.at(0)
	if create.Path != "/v2/alerts" || create.Header.Get("Authorization") != "GenieKey gk" {
		t.Errorf("create path=%s auth=%q", create.Path, create.Header.Get("Authorization"))
	}
	if body := decodeBody(t, create.Body); body["priority"] != "P1" || body["alias"] != "monitor-12" {
		t.Errorf("create body = %v", body)
	}
	closeReq := reqs.at(1)
	if closeReq.Path != "/v2/alerts/monitor-12/close" || closeReq.Query.Get("identifierType") != "alias" {
		t.Errorf("close path=%s query=%v", closeReq.Path, closeReq.Query)
	}
}

func TestNtfyAdapter(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusOK)
	a := NewNtfyAdapter(srv.Client())
	cfg := &NtfyConfig{Topic: "ops", ServerURL: srv.URL + "/", Token: "tk"}

	if err := a.SendAlert(context.Background(), testNotification(cfg, "")); err != nil {
		t.Fatal(err)
	}
	req := reqs.at(0)
	if req.Path != "/ops" {
		t.Errorf("path = %s", req.Path)
	}
	for header, want := range map[string]string{
		"Title":         "api is down",
		"Priority":      "urgent",
		"Tags":          "rotating_light",
		"Authorization": "Bearer tk",
	} {
		if got := req.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestTwilioAdapter(t *testing.T) {
	tests := []struct {
		channel  Provider
		wantFrom string
		wantTo   string
	}{
		{ProviderSMS, "+15550001", "+15550002"},
		{ProviderWhatsApp, "whatsapp:+15550001", "whatsapp:+15550002"},
	}
	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			srv, reqs := captureServer(t, http.StatusCreated)
			a := NewTwilioAdapter(srv.Client())
			cfg := &TwilioConfig{Channel: tt.channel, AccountSID: "AC1", AuthToken: "tok", From: "+15550001", To: "+15550002", APIURL: srv.URL}

			if err := a.SendAlert(context.Background(), testNotification(cfg, "")); err != nil {
				t.Fatal(err)
			}
			req := reqs.at(0)
			if req.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
				t.Errorf("path = %s", req.Path)
			}
			if !strings.HasPrefix(req.Header.Get("Authorization"), "Basic ") {
				t.Error("missing basic auth")
			}
			form, err := url.ParseQuery(string(req.Body))
			if err != nil {
				t.Fatal(err)
			}
			if form.Get("From") != tt.wantFrom || form.Get("To") != tt.wantTo {
				t.Errorf("from=%q to=%q", form.Get("From"), form.Get("To"))
			}
		})
	}
}

func TestGrafanaOnCallState(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusOK)
	a := NewGrafanaOnCallAdapter(srv.Client())
	cfg := &GrafanaOnCallConfig{WebhookURL: srv.URL}

	_ = a.SendAlert(context.Background(), testNotification(cfg, ""))
	_ = a.SendRecovery(context.Background(), testNotification(cfg, ""))

	if s := decodeBody(t, reqs.at(0).Body)["state"]; s != "alerting" {
		t.Errorf("alert state = %v", s)
	}
	if s := decodeBody(t, reqs.at(1).Body)["state"]; s != "ok" {
		t.Errorf("recovery state = %v", s)
	}
}

func TestAdapterRejectsForeignConfig(t *testing.T) {
	a := NewSlackAdapter(http.DefaultClient)
	err := a.SendAlert(context.Background(), testNotification(&NtfyConfig{Topic: "x"}, ""))
	if err == nil {
		t.Fatal("expected config type error")
	}
}

func TestAdapterHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewGoogleChatAdapter(srv.Client())
	if err := a.SendAlert(ctx, testNotification(&GoogleChatConfig{WebhookURL: srv.URL}, "")); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestBuildEmail(t *testing.T) {
	cfg := &EmailConfig{To: []string{"a@example.com", "b@example.com"}, From: "uptrack@example.com", Host: "smtp.example.com", Port: 587}
	msg := string(buildEmail(cfg, testNotification(cfg, EventRecovery)))

	for _, want := range []string{
		"To: a@example.com, b@example.com\r\n",
		"Subject: [RECOVERY] api has recovered\r\n",
		"Target: https://api.example.com/health\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestDefaultRegistryCoversEveryProvider(t *testing.T) {
	reg := DefaultRegistry(nil)
	for _, p := range Providers {
		if _, ok := reg.Adapter(p); !ok {
			t.Errorf("no adapter registered for %s", p)
		}
	}
}
