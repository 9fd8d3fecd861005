package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/makt28/uptrack/internal/config"
	"github.com/makt28/uptrack/internal/monitor"
	"github.com/makt28/uptrack/internal/status"
	"github.com/makt28/uptrack/internal/storage"
)

// Deps are the services the API reads from and drives.
type Deps struct {
	Config     *config.Manager
	Store      storage.Store
	Dispatcher monitor.Dispatcher
	Live       *monitor.LiveHistory
	Tracker    *status.Tracker
}

// NewRouter sets up all routes and returns the http.Handler.
func NewRouter(d Deps) http.Handler {
	cfg := d.Config.Get()
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	if len(cfg.System.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.System.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}

	h := NewHandlers(d)
	health := NewHealthHandler(d.Config)

	r.Get("/healthz", health.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Config, NewAuthLimiter(cfg.Auth.MaxFailedAttempts, cfg.Auth.Lockout())))
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/monitors", h.APIMonitors)
		r.Route("/monitors/{id}", func(r chi.Router) {
			r.Use(monitorCtx(d.Config))
			r.Get("/", h.APIMonitorDetail)
			r.Get("/tracker", h.MonitorTracker)
			r.Get("/incidents", h.MonitorIncidents)
			r.Post("/toggle", h.ToggleMonitor)
			r.Post("/trigger", h.TriggerEvent)
			r.Get("/triggers", h.ListTriggers)
		})
		r.Post("/tracker", h.ComputeTracker)

		r.Post("/incidents/{id}/acknowledge", h.AcknowledgeIncident)

		r.Get("/status-reports", h.ListStatusReports)
		r.Post("/status-reports", h.CreateStatusReport)
		r.Post("/status-reports/{id}/updates", h.AddStatusReportUpdate)
	})

	return r
}
