package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

// Manager owns the config file. It keeps two views: the file as written on
// disk, and the effective config with UPTRACK_* overrides applied. Only the
// file view is ever persisted.
type Manager struct {
	path string

	mu        sync.RWMutex
	file      Config
	effective Config

	subMu sync.Mutex
	subs  []chan struct{}
}

// NewManager loads path. A missing file yields the defaults, which are not
// written until the first Save or Update.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}

	file := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("config file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("load config: %w", err)
	default:
		file = Config{}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("load config: parse %s: %w", path, err)
		}
	}

	file.ApplyDefaults()
	effective, err := withEnv(file)
	if err != nil {
		return nil, err
	}
	if err := effective.Validate(); err != nil {
		return nil, err
	}
	m.file, m.effective = file, effective
	return m, nil
}

// withEnv returns a copy of cfg with environment overrides applied to the
// system and auth sections. Unset variables keep the file values.
func withEnv(cfg Config) (Config, error) {
	out := cfg.clone()
	if err := cleanenv.ReadEnv(&out.System); err != nil {
		return Config{}, fmt.Errorf("read system env: %w", err)
	}
	if err := cleanenv.ReadEnv(&out.Auth); err != nil {
		return Config{}, fmt.Errorf("read auth env: %w", err)
	}
	out.ApplyDefaults()
	return out, nil
}

// Get returns the effective config. The result shares nothing with the
// manager and may be modified freely.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effective.clone()
}

// Save persists cfg as the new file content and notifies subscribers.
func (m *Manager) Save(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(cfg.clone())
}

// Update applies fn to the file view and persists the result, so values
// that came from the environment are not written back.
func (m *Manager) Update(fn func(*Config) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.file.clone()
	if err := fn(&next); err != nil {
		return err
	}
	return m.commitLocked(next)
}

func (m *Manager) commitLocked(file Config) error {
	file.Version = CurrentConfigVersion
	file.ApplyDefaults()
	effective, err := withEnv(file)
	if err != nil {
		return err
	}
	if err := effective.Validate(); err != nil {
		return err
	}
	if err := writeFileAtomic(m.path, file); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	m.file, m.effective = file, effective
	m.broadcast()
	return nil
}

// Subscribe returns a channel signalled after every successful write. Signals
// coalesce: a slow reader sees one pending signal, never a backlog.
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) broadcast() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// writeFileAtomic writes cfg next to path and renames it into place.
func writeFileAtomic(path string, cfg Config) (err error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// clone deep-copies the slices so callers cannot mutate shared state.
func (c Config) clone() Config {
	out := c
	out.System.KafkaBrokers = slices.Clone(c.System.KafkaBrokers)
	out.System.CORSOrigins = slices.Clone(c.System.CORSOrigins)
	out.Notifications = slices.Clone(c.Notifications)
	for i := range out.Notifications {
		out.Notifications[i].Data = slices.Clone(out.Notifications[i].Data)
	}
	out.Monitors = slices.Clone(c.Monitors)
	for i := range out.Monitors {
		out.Monitors[i].NotificationIDs = slices.Clone(out.Monitors[i].NotificationIDs)
		if e := out.Monitors[i].Enabled; e != nil {
			v := *e
			out.Monitors[i].Enabled = &v
		}
	}
	return out
}
