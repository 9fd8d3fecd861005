package web

import (
	"net/http"
	"time"

	"github.com/makt28/uptrack/internal/config"
)

var startTime = time.Now()

const version = "0.1.0"

// HealthHandler serves the /healthz endpoint.
type HealthHandler struct {
	cfgMgr *config.Manager
}

func NewHealthHandler(cfgMgr *config.Manager) *HealthHandler {
	return &HealthHandler{cfgMgr: cfgMgr}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfgMgr.Get()
	enabled := 0
	for _, m := range cfg.Monitors {
		if m.IsEnabled() {
			enabled++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"version":          version,
		"uptime_seconds":   int(time.Since(startTime).Seconds()),
		"monitor_count":    len(cfg.Monitors),
		"monitors_enabled": enabled,
		"channel_count":    len(cfg.Notifications),
	})
}
