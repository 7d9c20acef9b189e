package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/geomux/geomux/internal/metrics"
	"github.com/geomux/geomux/internal/observability"
)

func buildMiddlewareStack(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next
		handler = accessLogMiddleware(logger, handler)
		handler = metrics.Middleware(handler)
		handler = observability.RequestIDMiddleware(handler)
		return handler
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// accessLogMiddleware emits one structured line per request.
func accessLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", observability.RequestIDFromContext(r.Context()),
		)
	})
}
