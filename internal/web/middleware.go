package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/makt28/uptrack/internal/config"
)

// RequestLogger logs one line per request with slog.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			level := slog.LevelDebug
			if ww.Status() >= 500 {
				level = slog.LevelError
			}
			slog.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

type ctxKey int

const monitorKey ctxKey = iota

// monitorCtx resolves {id} against the configured monitors.
func monitorCtx(cfgMgr *config.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil || id <= 0 {
				writeError(w, http.StatusBadRequest, "invalid monitor id")
				return
			}
			cfg := cfgMgr.Get()
			m, ok := cfg.FindMonitor(id)
			if !ok {
				writeError(w, http.StatusNotFound, "monitor not found")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), monitorKey, m)))
		})
	}
}

func monitorFrom(ctx context.Context) config.Monitor {
	m, _ := ctx.Value(monitorKey).(config.Monitor)
	return m
}
