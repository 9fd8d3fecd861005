package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/makt28/uptrack/internal/notify"
)

const CurrentConfigVersion = 1

// Config is the root configuration structure persisted in config.json.
type Config struct {
	Version       int                  `json:"version"`
	System        SystemConfig         `json:"system"`
	Auth          AuthConfig           `json:"auth"`
	Notifications []NotificationConfig `json:"notifications"`
	Monitors      []Monitor            `json:"monitors"`
}

// SystemConfig fields can be overridden with UPTRACK_* environment variables.
type SystemConfig struct {
	BindAddress         string   `json:"bind_address" env:"UPTRACK_BIND_ADDRESS"`
	CheckInterval       int      `json:"check_interval" env:"UPTRACK_CHECK_INTERVAL"`
	LogLevel            string   `json:"log_level" env:"UPTRACK_LOG_LEVEL"`
	Timezone            string   `json:"timezone,omitempty" env:"UPTRACK_TIMEZONE"`
	MaxMonitors         int      `json:"max_monitors" env:"UPTRACK_MAX_MONITORS"`
	DatabaseURL         string   `json:"database_url" env:"UPTRACK_DATABASE_URL"`
	Region              string   `json:"region,omitempty" env:"UPTRACK_REGION"`
	DispatchConcurrency int      `json:"dispatch_concurrency" env:"UPTRACK_DISPATCH_CONCURRENCY"`
	DispatchTimeout     int      `json:"dispatch_timeout" env:"UPTRACK_DISPATCH_TIMEOUT"`
	TrackerDays         int      `json:"tracker_days" env:"UPTRACK_TRACKER_DAYS"`
	BlacklistFile       string   `json:"blacklist_file,omitempty" env:"UPTRACK_BLACKLIST_FILE"`
	KafkaBrokers        []string `json:"kafka_brokers,omitempty" env:"UPTRACK_KAFKA_BROKERS" env-separator:","`
	KafkaTopic          string   `json:"kafka_topic,omitempty" env:"UPTRACK_KAFKA_TOPIC"`
	CORSOrigins         []string `json:"cors_origins,omitempty" env:"UPTRACK_CORS_ORIGINS" env-separator:","`
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the bearer key. Empty disables auth.
	APIKeyHash string `json:"api_key_hash,omitempty" env:"UPTRACK_API_KEY_HASH"`
	// A client IP is locked out for LockoutDuration seconds after
	// MaxFailedAttempts rejected keys.
	MaxFailedAttempts int `json:"max_failed_attempts" env:"UPTRACK_AUTH_MAX_FAILED_ATTEMPTS"`
	LockoutDuration   int `json:"lockout_duration" env:"UPTRACK_AUTH_LOCKOUT_DURATION"`
}

// NotificationConfig is one channel. Data holds the provider-specific
// settings and is validated through notify.DecodeConfig.
type NotificationConfig struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Provider notify.Provider `json:"provider"`
	Data     json.RawMessage `json:"data"`
}

type Monitor struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	Target          string `json:"target"`
	Interval        int    `json:"interval"`
	Timeout         int    `json:"timeout"`
	MaxRetries      int    `json:"max_retries"`
	DegradedAfterMs int    `json:"degraded_after_ms,omitempty"`
	IgnoreTLS       bool   `json:"ignore_tls"`
	// Privileged sends ping monitors' echo requests over a raw socket
	// (needs CAP_NET_RAW). Without it the UDP mode requires the host's
	// net.ipv4.ping_group_range to include the process group.
	Privileged      bool    `json:"privileged,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
	NotificationIDs []int64 `json:"notification_ids,omitempty"`
}

// IsEnabled returns whether the monitor is enabled (defaults to true).
func (m *Monitor) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// IntervalDuration returns the monitor interval, falling back to def seconds.
func (m *Monitor) IntervalDuration(def int) time.Duration {
	if m.Interval > 0 {
		return time.Duration(m.Interval) * time.Second
	}
	return time.Duration(def) * time.Second
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version: CurrentConfigVersion,
		System: SystemConfig{
			BindAddress:         ":8080",
			CheckInterval:       60,
			LogLevel:            "info",
			Timezone:            detectTimezone(),
			MaxMonitors:         500,
			DatabaseURL:         "data/uptrack.db",
			DispatchConcurrency: notify.DefaultConcurrency,
			DispatchTimeout:     int(notify.DefaultTimeout / time.Second),
			TrackerDays:         45,
			KafkaTopic:          "uptrack.dispatch",
		},
		Auth: AuthConfig{
			MaxFailedAttempts: 5,
			LockoutDuration:   900,
		},
		Notifications: []NotificationConfig{},
		Monitors:      []Monitor{},
	}
}

// ApplyDefaults fills zero-value fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.System.BindAddress == "" {
		c.System.BindAddress = d.System.BindAddress
	}
	if c.System.CheckInterval <= 0 {
		c.System.CheckInterval = d.System.CheckInterval
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = d.System.LogLevel
	}
	if c.System.Timezone == "" {
		c.System.Timezone = detectTimezone()
	}
	if c.System.MaxMonitors <= 0 {
		c.System.MaxMonitors = d.System.MaxMonitors
	}
	if c.System.DatabaseURL == "" {
		c.System.DatabaseURL = d.System.DatabaseURL
	}
	if c.System.DispatchConcurrency <= 0 {
		c.System.DispatchConcurrency = d.System.DispatchConcurrency
	}
	if c.System.DispatchTimeout <= 0 {
		c.System.DispatchTimeout = d.System.DispatchTimeout
	}
	if c.System.TrackerDays <= 0 {
		c.System.TrackerDays = d.System.TrackerDays
	}
	if c.System.KafkaTopic == "" {
		c.System.KafkaTopic = d.System.KafkaTopic
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		c.Auth.MaxFailedAttempts = d.Auth.MaxFailedAttempts
	}
	if c.Auth.LockoutDuration <= 0 {
		c.Auth.LockoutDuration = d.Auth.LockoutDuration
	}
	if c.Notifications == nil {
		c.Notifications = []NotificationConfig{}
	}
	if c.Monitors == nil {
		c.Monitors = []Monitor{}
	}
	for i := range c.Monitors {
		if c.Monitors[i].Timeout <= 0 {
			c.Monitors[i].Timeout = 10
		}
	}
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.System.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DispatchTimeoutDuration is the per-channel send deadline.
func (c *Config) DispatchTimeoutDuration() time.Duration {
	return time.Duration(c.System.DispatchTimeout) * time.Second
}

// ChannelRecords converts the notification list into storage records.
func (c *Config) ChannelRecords() []notify.ChannelRecord {
	out := make([]notify.ChannelRecord, 0, len(c.Notifications))
	for _, n := range c.Notifications {
		out = append(out, notify.ChannelRecord{ID: n.ID, Name: n.Name, Provider: n.Provider, Data: n.Data})
	}
	return out
}

// ChannelLinks maps each monitor to its notification ids.
func (c *Config) ChannelLinks() map[int64][]int64 {
	links := make(map[int64][]int64, len(c.Monitors))
	for _, m := range c.Monitors {
		if len(m.NotificationIDs) > 0 {
			links[m.ID] = m.NotificationIDs
		}
	}
	return links
}

// FindMonitor returns the monitor with id.
func (c *Config) FindMonitor(id int64) (Monitor, bool) {
	for _, m := range c.Monitors {
		if m.ID == id {
			return m, true
		}
	}
	return Monitor{}, false
}

// detectTimezone returns the system's IANA timezone name, falling back to "UTC".
func detectTimezone() string {
	name := time.Now().Location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	var errs []string

	if c.System.CheckInterval < 5 {
		errs = append(errs, "system.check_interval must be >= 5 seconds")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.System.LogLevel] {
		errs = append(errs, fmt.Sprintf("system.log_level must be one of: debug, info, warn, error (got %q)", c.System.LogLevel))
	}
	if _, err := time.LoadLocation(c.System.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("system.timezone %q is not a known IANA zone", c.System.Timezone))
	}
	if c.System.DispatchConcurrency > 256 {
		errs = append(errs, "system.dispatch_concurrency must be <= 256")
	}
	if len(c.System.KafkaBrokers) > 0 && c.System.KafkaTopic == "" {
		errs = append(errs, "system.kafka_topic is required when kafka_brokers is set")
	}

	if len(c.Monitors) > c.System.MaxMonitors {
		errs = append(errs, fmt.Sprintf("monitors count (%d) exceeds max_monitors (%d)", len(c.Monitors), c.System.MaxMonitors))
	}

	channels := make(map[int64]bool, len(c.Notifications))
	for i, n := range c.Notifications {
		prefix := fmt.Sprintf("notifications[%d]", i)
		if n.ID <= 0 {
			errs = append(errs, prefix+".id must be > 0")
		}
		if channels[n.ID] {
			errs = append(errs, fmt.Sprintf("%s.id is duplicate: %d", prefix, n.ID))
		}
		channels[n.ID] = true
		if n.Name == "" {
			errs = append(errs, prefix+".name is required")
		}
		if !n.Provider.Valid() {
			errs = append(errs, fmt.Sprintf("%s.provider %q is not supported", prefix, n.Provider))
		} else if _, err := notify.DecodeConfig(n.Provider, n.Data); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", prefix, err))
		}
	}

	seen := make(map[int64]bool)
	for i, m := range c.Monitors {
		prefix := fmt.Sprintf("monitors[%d]", i)
		if m.ID <= 0 {
			errs = append(errs, prefix+".id must be > 0")
		}
		if seen[m.ID] {
			errs = append(errs, fmt.Sprintf("%s.id is duplicate: %d", prefix, m.ID))
		}
		seen[m.ID] = true

		if m.Name == "" {
			errs = append(errs, prefix+".name is required")
		}

		switch m.Type {
		case "http":
			if u, err := url.Parse(m.Target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, prefix+".target must be a valid http(s) URL")
			}
		case "tcp":
			if _, _, err := net.SplitHostPort(m.Target); err != nil {
				errs = append(errs, prefix+".target must be host:port")
			}
		case "ping":
			if m.Target == "" || strings.Contains(m.Target, "/") {
				errs = append(errs, prefix+".target must be a bare host")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.type must be http, tcp, or ping (got %q)", prefix, m.Type))
		}

		interval := m.Interval
		if interval <= 0 {
			interval = c.System.CheckInterval
		}
		if m.Timeout <= 0 {
			errs = append(errs, prefix+".timeout must be > 0")
		} else if m.Timeout >= interval {
			errs = append(errs, fmt.Sprintf("%s.timeout (%d) must be < interval (%d)", prefix, m.Timeout, interval))
		}
		if m.MaxRetries < 0 {
			errs = append(errs, prefix+".max_retries must be >= 0")
		}
		if m.DegradedAfterMs < 0 {
			errs = append(errs, prefix+".degraded_after_ms must be >= 0")
		} else if m.DegradedAfterMs > 0 && m.DegradedAfterMs >= m.Timeout*1000 {
			errs = append(errs, prefix+".degraded_after_ms must be below the timeout")
		}
		for _, id := range m.NotificationIDs {
			if !channels[id] {
				errs = append(errs, fmt.Sprintf("%s.notification_ids references unknown notification %d", prefix, id))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
