package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `{
  "version": 1,
  "system": {"check_interval": 30, "log_level": "debug", "timezone": "UTC"},
  "notifications": [
    {"id": 1, "name": "ops slack", "provider": "slack", "data": {"webhook_url": "https://hooks.slack.com/services/T/B/X"}},
    {"id": 2, "name": "pager", "provider": "pagerduty", "data": {"integration_key": "abc"}}
  ],
  "monitors": [
    {"id": 10, "name": "api", "type": "http", "target": "https://api.example.com/health", "timeout": 5, "notification_ids": [1, 2]},
    {"id": 11, "name": "db", "type": "tcp", "target": "db.internal:5432", "interval": 15, "timeout": 3, "notification_ids": [2]}
  ]
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewManager_LoadsAndDefaults(t *testing.T) {
	m, err := NewManager(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()

	if cfg.System.BindAddress != ":8080" || cfg.System.DispatchConcurrency != 8 || cfg.System.DispatchTimeout != 10 {
		t.Errorf("defaults not applied: %+v", cfg.System)
	}
	if cfg.System.TrackerDays != 45 {
		t.Errorf("tracker_days = %d, want 45", cfg.System.TrackerDays)
	}
	if got := cfg.Monitors[1].IntervalDuration(cfg.System.CheckInterval); got != 15*time.Second {
		t.Errorf("db interval = %v", got)
	}
	if got := cfg.Monitors[0].IntervalDuration(cfg.System.CheckInterval); got != 30*time.Second {
		t.Errorf("api interval = %v, want the system default", got)
	}

	links := cfg.ChannelLinks()
	if len(links[10]) != 2 || len(links[11]) != 1 {
		t.Errorf("links = %v", links)
	}
	records := cfg.ChannelRecords()
	if len(records) != 2 || records[1].Provider != "pagerduty" {
		t.Errorf("records = %+v", records)
	}
}

func TestNewManager_EnvOverrides(t *testing.T) {
	t.Setenv("UPTRACK_BIND_ADDRESS", ":9999")
	t.Setenv("UPTRACK_DATABASE_URL", "postgres://u:p@db/uptrack")
	t.Setenv("UPTRACK_KAFKA_BROKERS", "k1:9092,k2:9092")

	m, err := NewManager(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	sys := m.Get().System
	if sys.BindAddress != ":9999" {
		t.Errorf("bind_address = %q", sys.BindAddress)
	}
	if sys.DatabaseURL != "postgres://u:p@db/uptrack" {
		t.Errorf("database_url = %q", sys.DatabaseURL)
	}
	if len(sys.KafkaBrokers) != 2 || sys.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("kafka_brokers = %v", sys.KafkaBrokers)
	}
	if sys.LogLevel != "debug" {
		t.Errorf("unset env var must keep file value, log_level = %q", sys.LogLevel)
	}
}

func TestNewManager_MissingFileUsesDefaults(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Get().Monitors) != 0 {
		t.Error("default config must have no monitors")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.System.LogLevel = "trace" }, "log_level"},
		{"bad timezone", func(c *Config) { c.System.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad channel config", func(c *Config) {
			c.Notifications[0].Data = json.RawMessage(`{"webhook_url":"nope"}`)
		}, "notifications[0]"},
		{"unknown provider", func(c *Config) { c.Notifications[1].Provider = "fax" }, `notifications[1].provider "fax" is not supported`},
		{"missing provider", func(c *Config) { c.Notifications[0].Provider = "" }, `notifications[0].provider "" is not supported`},
		{"duplicate channel", func(c *Config) { c.Notifications[1].ID = 1 }, "duplicate"},
		{"dangling notification id", func(c *Config) { c.Monitors[0].NotificationIDs = []int64{7} }, "unknown notification 7"},
		{"tcp without port", func(c *Config) { c.Monitors[1].Target = "db.internal" }, "host:port"},
		{"timeout above interval", func(c *Config) { c.Monitors[0].Timeout = 60 }, "must be < interval"},
		{"degraded above timeout", func(c *Config) { c.Monitors[0].DegradedAfterMs = 9000 }, "degraded_after_ms"},
		{"unsupported type", func(c *Config) { c.Monitors[0].Type = "dns" }, "type must be http, tcp, or ping"},
		{"ping with url", func(c *Config) { c.Monitors[0].Type = "ping" }, "bare host"},
		{"kafka without topic", func(c *Config) {
			c.System.KafkaBrokers = []string{"k:9092"}
			c.System.KafkaTopic = ""
		}, "kafka_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			if err := json.Unmarshal([]byte(sampleConfig), &cfg); err != nil {
				t.Fatal(err)
			}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveBroadcastsAndPersists(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	changes := m.Subscribe()

	cfg := m.Get()
	cfg.Monitors = cfg.Monitors[:1]
	if err := m.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("no change signal after Save")
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Get().Monitors) != 1 {
		t.Errorf("persisted %d monitors, want 1", len(reloaded.Get().Monitors))
	}

	bad := m.Get()
	bad.System.LogLevel = "loud"
	if err := m.Save(bad); err == nil {
		t.Error("Save must reject an invalid config")
	}
}

func TestAPIKeyHash(t *testing.T) {
	if _, err := HashAPIKey("short"); err == nil {
		t.Error("short keys must be rejected")
	}
	hash, err := HashAPIKey("0123456789abcdef-key")
	if err != nil {
		t.Fatal(err)
	}
	auth := AuthConfig{APIKeyHash: hash}
	if !auth.Enabled() || !auth.Verify("0123456789abcdef-key") {
		t.Error("matching key must verify")
	}
	if auth.Verify("wrong-key-0123456789") || auth.Verify("") {
		t.Error("wrong key must not verify")
	}
}

func TestUpdate_KeepsEnvOutOfFile(t *testing.T) {
	t.Setenv("UPTRACK_BIND_ADDRESS", ":7070")
	path := writeConfig(t, sampleConfig)
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}

	err = m.Update(func(c *Config) error {
		off := false
		c.Monitors[1].Enabled = &off
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if m.Get().Monitors[1].IsEnabled() {
		t.Error("update not applied to the effective config")
	}
	if m.Get().System.BindAddress != ":7070" {
		t.Error("env override lost after update")
	}

	var onDisk Config
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.System.BindAddress == ":7070" {
		t.Error("env override was written to the config file")
	}
	if onDisk.Monitors[1].IsEnabled() {
		t.Error("update not persisted")
	}

	boom := m.Update(func(c *Config) error { return os.ErrPermission })
	if boom != os.ErrPermission {
		t.Errorf("Update error = %v, want the callback's error", boom)
	}
}

func TestGet_ReturnsIsolatedCopy(t *testing.T) {
	m, err := NewManager(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	cfg := m.Get()
	cfg.Monitors[0].NotificationIDs[0] = 99
	cfg.Monitors[0].Name = "changed"
	if got := m.Get().Monitors[0]; got.NotificationIDs[0] != 1 || got.Name != "api" {
		t.Errorf("manager state mutated through Get: %+v", got)
	}
}
