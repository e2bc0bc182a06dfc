// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/extractor"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
)

// ErrSubmissionUnsupported marks URLs the extractor refuses; the admin
// API maps it to 400.
var ErrSubmissionUnsupported = errors.New("unsupported submission url")

// ErrSubmissionUnavailable marks submissions that resolved to nothing
// fetchable yet (no result, or a stream that has not aired); mapped to
// 422.
var ErrSubmissionUnavailable = errors.New("submission unavailable")

// ManualSubmissionService turns a single URL into a QUEUED download on a
// manual feed.
type ManualSubmissionService struct {
	downloads *db.DownloadStore
	source    MediaSource
	logger    zerolog.Logger
}

// NewManualSubmissionService creates the service.
func NewManualSubmissionService(downloads *db.DownloadStore, source MediaSource) *ManualSubmissionService {
	return &ManualSubmissionService{
		downloads: downloads,
		source:    source,
		logger:    xlog.WithComponent("manual_submission"),
	}
}

// Submit resolves the URL with single-video semantics and records the
// download. A resubmission of a known item returns it unchanged with
// isNew false; an existing ERROR row is requeued.
func (s *ManualSubmissionService) Submit(ctx context.Context, feedID string, cfg *config.FeedConfig, url, cookiesPath string) (d *model.Download, isNew bool, err error) {
	fresh, err := s.source.FetchSingleMetadata(ctx, feedID, url, cfg.YtArgs,
		derefOr(cfg.TranscriptLang, ""), derefOr(cfg.TranscriptSourcePriority, ""), cookiesPath)
	if err != nil {
		switch {
		case errors.Is(err, extractor.ErrUnsupportedURL):
			return nil, false, fmt.Errorf("%w: %s", ErrSubmissionUnsupported, url)
		case errors.Is(err, extractor.ErrNoResults):
			return nil, false, fmt.Errorf("%w: %s", ErrSubmissionUnavailable, url)
		default:
			return nil, false, err
		}
	}
	if fresh.Status == model.StatusUpcoming {
		return nil, false, fmt.Errorf("%w: %s has not aired yet", ErrSubmissionUnavailable, url)
	}

	existing, err := s.downloads.GetDownloadByID(ctx, feedID, fresh.ID)
	if err == nil {
		if existing.Status == model.StatusError {
			if _, err := s.downloads.RequeueDownloads(ctx, feedID, []string{existing.ID}, nil); err != nil {
				return nil, false, err
			}
			return s.reload(ctx, feedID, existing.ID)
		}
		return existing, false, nil
	}
	if !errors.Is(err, db.ErrDownloadNotFound) {
		return nil, false, err
	}

	if err := s.downloads.UpsertDownload(ctx, fresh); err != nil {
		return nil, false, err
	}
	s.logger.Info().Str("event", "manual.submitted").Str("feed_id", feedID).
		Str("download_id", fresh.ID).Msg("manual submission queued")
	stored, _, err := s.reload(ctx, feedID, fresh.ID)
	return stored, true, err
}

func (s *ManualSubmissionService) reload(ctx context.Context, feedID, id string) (*model.Download, bool, error) {
	d, err := s.downloads.GetDownloadByID(ctx, feedID, id)
	if err != nil {
		return nil, false, err
	}
	return d, false, nil
}
