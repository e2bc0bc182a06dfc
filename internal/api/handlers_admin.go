// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anypod/anypod/internal/db"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/pipeline"
)

// handleResetErrors bulk-requeues a feed's ERROR items.
func (s *Server) handleResetErrors(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	if _, err := s.deps.Feeds.GetFeedByID(r.Context(), feedID); err != nil {
		s.feedLookupError(w, r, feedID, err)
		return
	}

	from := model.StatusError
	n, err := s.deps.Downloads.RequeueDownloads(r.Context(), feedID, nil, &from)
	if err != nil {
		s.internalError(w, r, "reset errors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":     feedID,
		"reset_count": n,
	})
}

// handleTrigger requests an immediate pipeline run for a feed.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	cfg := s.deps.Config()
	if _, ok := cfg.Feeds[feedID]; !ok {
		errorJSON(w, http.StatusNotFound, "feed not configured")
		return
	}

	triggered, err := s.deps.Trigger(r.Context(), feedID)
	if err != nil {
		s.internalError(w, r, "trigger feed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":   feedID,
		"triggered": triggered,
	})
}

type manualSubmissionRequest struct {
	URL string `json:"url"`
}

// handleManualSubmission accepts a single URL on a manual feed.
func (s *Server) handleManualSubmission(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	appCfg := s.deps.Config()

	feedCfg, ok := appCfg.Feeds[feedID]
	if !ok {
		errorJSON(w, http.StatusNotFound, "feed not configured")
		return
	}
	if !feedCfg.IsEnabled() {
		errorJSON(w, http.StatusBadRequest, "feed is disabled")
		return
	}
	if !feedCfg.IsManual() {
		errorJSON(w, http.StatusBadRequest, "feed does not accept manual submissions")
		return
	}

	var req manualSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		errorJSON(w, http.StatusBadRequest, "body must be {\"url\": \"...\"}")
		return
	}

	d, isNew, err := s.deps.Manual.Submit(r.Context(), feedID, feedCfg, req.URL, appCfg.CookiesPath)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrSubmissionUnsupported):
			errorJSON(w, http.StatusBadRequest, "unsupported url")
		case errors.Is(err, pipeline.ErrSubmissionUnavailable):
			errorJSON(w, http.StatusUnprocessableEntity, "url is not available yet")
		default:
			s.internalError(w, r, "manual submission", err)
		}
		return
	}

	message := "already known"
	if isNew {
		message = "queued for download"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":     feedID,
		"download_id": d.ID,
		"new":         isNew,
		"status":      string(d.Status),
		"message":     message,
	})
}

type refreshMetadataRequest struct {
	RefreshTranscript bool `json:"refresh_transcript"`
}

// handleRefreshMetadata re-fetches one download's metadata.
func (s *Server) handleRefreshMetadata(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	downloadID := chi.URLParam(r, "downloadID")
	appCfg := s.deps.Config()

	feedCfg, ok := appCfg.Feeds[feedID]
	if !ok {
		errorJSON(w, http.StatusNotFound, "feed not configured")
		return
	}

	d, err := s.deps.Downloads.GetDownloadByID(r.Context(), feedID, downloadID)
	if err != nil {
		s.downloadLookupError(w, r, feedID, downloadID, err)
		return
	}

	var req refreshMetadataRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	lang, priority := "", ""
	if req.RefreshTranscript {
		if feedCfg.TranscriptLang != nil {
			lang = *feedCfg.TranscriptLang
		}
		if feedCfg.TranscriptSourcePriority != nil {
			priority = *feedCfg.TranscriptSourcePriority
		}
	}

	result, err := s.deps.Enqueuer.RefreshMetadata(r.Context(), d, feedCfg.YtArgs, lang, priority, appCfg.CookiesPath)
	if err != nil {
		s.internalError(w, r, "refresh metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feed_id":                     feedID,
		"download_id":                 downloadID,
		"changed_fields":              result.ChangedFields,
		"thumbnail_url_changed":       result.ThumbnailURLChanged,
		"transcript_metadata_changed": result.TranscriptMetadataChanged,
	})
}

// handleDeleteDownload archives the item and removes its files.
func (s *Server) handleDeleteDownload(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	downloadID := chi.URLParam(r, "downloadID")

	d, err := s.deps.Downloads.GetDownloadByID(r.Context(), feedID, downloadID)
	if err != nil {
		s.downloadLookupError(w, r, feedID, downloadID, err)
		return
	}

	if d.Status == model.StatusDownloaded {
		exts := []string{d.Ext}
		if d.ThumbnailExt != nil {
			exts = append(exts, *d.ThumbnailExt)
		}
		if d.TranscriptExt != nil {
			exts = append(exts, *d.TranscriptExt)
		}
		for _, ext := range exts {
			path, err := s.deps.Paths.MediaPath(feedID, downloadID, ext)
			if err != nil {
				continue
			}
			if _, err := s.deps.Files.Delete(path); err != nil {
				xlog.FromContext(r.Context()).Warn().Str("event", "api.delete_file_failed").
					Str("feed_id", feedID).Str("download_id", downloadID).Err(err).
					Msg("file delete failed during download removal")
			}
		}
	}

	if err := s.deps.Downloads.ArchiveDownload(r.Context(), feedID, downloadID); err != nil {
		s.internalError(w, r, "archive download", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) feedLookupError(w http.ResponseWriter, r *http.Request, feedID string, err error) {
	if errors.Is(err, db.ErrFeedNotFound) {
		errorJSON(w, http.StatusNotFound, "feed not found")
		return
	}
	s.internalError(w, r, "load feed "+feedID, err)
}

func (s *Server) downloadLookupError(w http.ResponseWriter, r *http.Request, feedID, downloadID string, err error) {
	if errors.Is(err, db.ErrDownloadNotFound) {
		errorJSON(w, http.StatusNotFound, "download not found")
		return
	}
	s.internalError(w, r, "load download "+feedID+"/"+downloadID, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	xlog.FromContext(r.Context()).Error().Str("event", "api.internal_error").
		Str("op", op).Err(err).Msg("admin operation failed")
	errorJSON(w, http.StatusInternalServerError, "internal error")
}
