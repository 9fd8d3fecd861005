package web

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/makt28/uptrack/internal/config"
)

// AuthMiddleware requires "Authorization: Bearer <key>" when an API key hash
// is configured. The hash is read per request so key rotation applies
// without a restart. Clients locked out by limiter get 429 before any
// bcrypt work is done.
func AuthMiddleware(cfgMgr *config.Manager, limiter *AuthLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := cfgMgr.Get().Auth
			if !auth.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if wait := limiter.LockedFor(ip); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
				return
			}

			key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !auth.Verify(key) {
				limiter.RecordFailure(ip)
				slog.Warn("api auth failed", "ip", ip, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			limiter.Clear(ip)
			next.ServeHTTP(w, r)
		})
	}
}
