// SPDX-License-Identifier: MIT

// Package api is the HTTP surface: generated feed documents, the media
// store, health, metrics, and the admin operations.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/files"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/paths"
	"github.com/anypod/anypod/internal/pipeline"
	"github.com/anypod/anypod/internal/rss"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second

	adminRateLimit  = 30
	adminRateWindow = time.Minute
)

// Deps are the collaborators the server invokes. Everything here is an
// operation owned elsewhere; handlers only translate HTTP.
type Deps struct {
	Config    func() *config.AppConfig
	Feeds     *db.FeedStore
	Downloads *db.DownloadStore
	RSS       *rss.Generator
	Manual    *pipeline.ManualSubmissionService
	Enqueuer  *pipeline.Enqueuer
	Paths     *paths.Manager
	Files     *files.Manager

	// Trigger requests an immediate pipeline run for a feed. Returns
	// false when a run is already queued or in flight.
	Trigger func(ctx context.Context, feedID string) (bool, error)

	Version string
}

// Server is the HTTP server.
type Server struct {
	deps   Deps
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the server and its routes.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: xlog.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(recoverMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/feeds/{feedID}.xml", s.handleFeedXML)
	r.Head("/feeds/{feedID}.xml", s.handleFeedXML)

	r.Handle("/media/*", http.StripPrefix("/media", s.secureFileServer()))

	r.Route("/admin", func(r chi.Router) {
		r.Use(httprate.LimitByIP(adminRateLimit, adminRateWindow))
		r.Post("/feeds/{feedID}/reset-errors", s.handleResetErrors)
		r.Post("/feeds/{feedID}/trigger", s.handleTrigger)
		r.Post("/feeds/{feedID}/downloads", s.handleManualSubmission)
		r.Post("/feeds/{feedID}/downloads/{downloadID}/refresh-metadata", s.handleRefreshMetadata)
		r.Delete("/feeds/{feedID}/downloads/{downloadID}", s.handleDeleteDownload)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("event", "api.listening").Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "anypod",
		"version":   s.deps.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFeedXML(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	data, err := s.deps.RSS.GetFeedXML(feedID)
	if err != nil {
		if errors.Is(err, rss.ErrFeedXMLNotFound) {
			errorJSON(w, http.StatusNotFound, "feed not found")
			return
		}
		s.logger.Error().Str("event", "api.feed_xml_failed").Str("feed_id", feedID).Err(err).Msg("serving feed xml failed")
		errorJSON(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	http.ServeContent(w, r, feedID+".xml", time.Time{}, bytes.NewReader(data))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
