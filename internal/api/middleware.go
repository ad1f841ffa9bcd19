// ABOUTME: HTTP middleware for request logging and correlation IDs
// ABOUTME: Logs method, path, status and duration with sensitive query values redacted

package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-lens/internal/observability"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// LoggingMiddleware logs one record per request. Health checks are skipped.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if strings.HasSuffix(r.URL.Path, "/health") {
				return
			}

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
			}
			if r.URL.RawQuery != "" {
				args = append(args, slog.String("query", observability.RedactSensitive(r.URL.RawQuery)))
			}
			observability.LogWithContext(r.Context(), logger, level, "http request", args...)
		})
	}
}

// Routes returns the API mux wrapped in correlation and logging middleware.
func (h *Handler) Routes(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return observability.CorrelationMiddleware(LoggingMiddleware(logger)(mux))
}
