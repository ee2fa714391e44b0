package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RequestLogger attaches a request-scoped logger to the context and logs
// one line per request. Server errors log at warn level. Health checks
// log at debug level.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			r = r.WithContext(reqLogger.WithContext(r.Context()))

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			ev := reqLogger.Info()
			switch {
			case sw.status >= http.StatusInternalServerError:
				ev = reqLogger.Warn()
			case r.URL.Path == "/healthz" || r.URL.Path == "/readyz":
				ev = reqLogger.Debug()
			}
			if id := chi.URLParam(r, "backupID"); id != "" {
				ev = ev.Str("backup_id", id)
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int64("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
