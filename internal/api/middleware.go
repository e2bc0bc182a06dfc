// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/metrics"
)

// requestIDMiddleware attaches a request ID to the context and response,
// honoring an inbound X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(xlog.ContextWithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequests.WithLabelValues(routeClass(r.URL.Path), statusClass(rec.status)).Inc()
		xlog.FromContext(r.Context()).Info().
			Str("event", "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				xlog.FromContext(r.Context()).Error().
					Str("event", "http.panic").
					Str("path", r.URL.Path).
					Str("panic", fmt.Sprint(rec)).
					Msg("handler panicked")
				errorJSON(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// routeClass collapses paths to a bounded label set for metrics.
func routeClass(path string) string {
	switch {
	case strings.HasPrefix(path, "/feeds/"):
		return "feeds"
	case strings.HasPrefix(path, "/media/"):
		return "media"
	case strings.HasPrefix(path, "/admin/"):
		return "admin"
	case strings.HasPrefix(path, "/api/health"):
		return "health"
	case path == "/metrics":
		return "metrics"
	default:
		return "other"
	}
}

func statusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
