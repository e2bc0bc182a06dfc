// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/extractor"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/schedule"
)

// Enqueuer reconciles feed state with the upstream source to produce
// QUEUED items. It never re-queues DOWNLOADED or ARCHIVED items.
type Enqueuer struct {
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	source    MediaSource
	logger    zerolog.Logger
}

// NewEnqueuer creates an enqueuer.
func NewEnqueuer(feeds *db.FeedStore, downloads *db.DownloadStore, source MediaSource) *Enqueuer {
	return &Enqueuer{
		feeds:     feeds,
		downloads: downloads,
		source:    source,
		logger:    xlog.WithComponent("enqueuer"),
	}
}

// EnqueueResult is the outcome of one enqueue phase run.
type EnqueueResult struct {
	// NewlyQueued counts items that entered or re-entered QUEUED.
	NewlyQueued int
	// SyncCandidate is the end of the enumerated window: the instant the
	// upstream fetch started, capped by the catch-up bound. The
	// coordinator records it as last_successful_sync on success.
	SyncCandidate time.Time
}

// EnqueueNewDownloads runs the enqueue phase. Rerunning it over an
// overlapping window is idempotent: DOWNLOADED and ARCHIVED rows are
// never touched and existing QUEUED rows are not double-counted.
func (e *Enqueuer) EnqueueNewDownloads(ctx context.Context, feed *model.Feed, cfg *config.FeedConfig, fetchSince time.Time, cookiesPath string) (*EnqueueResult, error) {
	logger := e.logger.With().Str("feed_id", feed.ID).Logger()

	var errs *multierror.Error
	if err := e.processUpcoming(ctx, feed, cfg, cookiesPath); err != nil {
		errs = multierror.Append(errs, err)
	}

	result := &EnqueueResult{SyncCandidate: time.Now().UTC()}
	if feed.IsManual() {
		return result, errs.ErrorOrNil()
	}

	resolvedURL := feed.SourceURL
	if feed.ResolvedURL != nil {
		resolvedURL = feed.ResolvedURL
	}
	if resolvedURL == nil {
		return result, errs.ErrorOrNil()
	}

	// Bound the window so a long-idle feed catches up two schedule
	// intervals per run instead of scanning its entire history at once.
	var fetchUntil *time.Time
	if sched, err := schedule.ParseCron(cfg.Schedule); err == nil {
		if until := schedule.FetchUntil(sched, fetchSince, result.SyncCandidate); until.Before(result.SyncCandidate) {
			fetchUntil = &until
			result.SyncCandidate = until
		}
	}

	keepLast := 0
	if cfg.KeepLast != nil {
		keepLast = *cfg.KeepLast
	}
	items, err := e.source.FetchNewDownloadsMetadata(ctx, extractor.FetchRequest{
		FeedID:                   feed.ID,
		SourceType:               feed.SourceType,
		ResolvedURL:              *resolvedURL,
		UserArgs:                 cfg.YtArgs,
		FetchSince:               &fetchSince,
		FetchUntil:               fetchUntil,
		KeepLast:                 keepLast,
		TranscriptLang:           derefOr(cfg.TranscriptLang, ""),
		TranscriptSourcePriority: derefOr(cfg.TranscriptSourcePriority, ""),
		CookiesPath:              cookiesPath,
	})
	if err != nil {
		errs = multierror.Append(errs, &EnqueueError{FeedID: feed.ID, Err: err})
		return result, errs.ErrorOrNil()
	}

	for _, incoming := range items {
		queued, err := e.mergeIncoming(ctx, incoming)
		if err != nil {
			errs = multierror.Append(errs, &EnqueueError{FeedID: feed.ID, Err: err})
			continue
		}
		if queued {
			result.NewlyQueued++
		}
	}

	logger.Info().Str("event", "enqueue.done").
		Int("fetched", len(items)).Int("newly_queued", result.NewlyQueued).
		Msg("enqueue phase finished")
	return result, errs.ErrorOrNil()
}

// mergeIncoming applies the deduplication rules for one fetched item.
func (e *Enqueuer) mergeIncoming(ctx context.Context, incoming *model.Download) (queued bool, err error) {
	existing, err := e.downloads.GetDownloadByID(ctx, incoming.FeedID, incoming.ID)
	if errors.Is(err, db.ErrDownloadNotFound) {
		if err := e.downloads.UpsertDownload(ctx, incoming); err != nil {
			return false, err
		}
		return incoming.Status == model.StatusQueued, nil
	}
	if err != nil {
		return false, err
	}

	switch existing.Status {
	case model.StatusDownloaded, model.StatusArchived, model.StatusSkipped:
		return false, nil
	case model.StatusError, model.StatusUpcoming:
		if incoming.Status == model.StatusQueued {
			if err := e.downloads.UpsertDownload(ctx, incoming); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	default: // already QUEUED
		return false, nil
	}
}

// processUpcoming re-checks every UPCOMING item as a single video. Items
// that became VODs are promoted to QUEUED; failures bump retries.
func (e *Enqueuer) processUpcoming(ctx context.Context, feed *model.Feed, cfg *config.FeedConfig, cookiesPath string) error {
	upcoming, err := e.downloads.GetDownloadsByStatus(ctx, model.StatusUpcoming, feed.ID, nil, -1, 0)
	if err != nil {
		return &EnqueueError{FeedID: feed.ID, Err: err}
	}

	var errs *multierror.Error
	for _, d := range upcoming {
		fresh, err := e.source.FetchSingleMetadata(ctx, feed.ID, d.SourceURL, cfg.YtArgs,
			derefOr(cfg.TranscriptLang, ""), derefOr(cfg.TranscriptSourcePriority, ""), cookiesPath)
		if err != nil {
			e.bumpUpcoming(ctx, d, cfg, err)
			continue
		}
		if fresh.Status != model.StatusQueued {
			continue // still upcoming
		}
		if err := e.downloads.MarkAsQueuedFromUpcoming(ctx, d.FeedID, d.ID); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := e.downloads.UpdateDownload(ctx, d.FeedID, d.ID, db.DownloadUpdate{
			Ext:       &fresh.Ext,
			MIMEType:  &fresh.MIMEType,
			Duration:  &fresh.Duration,
			Filesize:  &fresh.Filesize,
			Published: &fresh.Published,
		}); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		e.logger.Info().Str("event", "enqueue.promoted").Str("feed_id", d.FeedID).
			Str("download_id", d.ID).Msg("upcoming item became a vod")
	}
	return errs.ErrorOrNil()
}

func (e *Enqueuer) bumpUpcoming(ctx context.Context, d *model.Download, cfg *config.FeedConfig, cause error) {
	retries, status, transitioned, err := e.downloads.BumpRetries(ctx, d.FeedID, d.ID, cause.Error(), cfg.EffectiveMaxErrors())
	if err != nil {
		e.logger.Error().Str("event", "enqueue.bump_failed").Str("feed_id", d.FeedID).
			Str("download_id", d.ID).Err(err).Msg("could not record upcoming re-check failure")
		return
	}
	e.logger.Warn().Str("event", "enqueue.upcoming_recheck_failed").Str("feed_id", d.FeedID).
		Str("download_id", d.ID).Int("retries", retries).Str("status", string(status)).
		Bool("transitioned_to_error", transitioned).Err(cause).Msg("upcoming re-check failed")
}

// RefreshResult reports what a metadata refresh changed.
type RefreshResult struct {
	Download                  *model.Download
	ChangedFields             []string
	ThumbnailURLChanged       bool
	TranscriptMetadataChanged bool
}

// RefreshMetadata re-fetches one download's metadata and writes only the
// scalar fields that changed. Lifecycle fields and already-known
// filesize and duration are preserved.
func (e *Enqueuer) RefreshMetadata(ctx context.Context, d *model.Download, userArgs []string, transcriptLang, transcriptPriority, cookiesPath string) (*RefreshResult, error) {
	fresh, err := e.source.FetchSingleMetadata(ctx, d.FeedID, d.SourceURL, userArgs, transcriptLang, transcriptPriority, cookiesPath)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{}
	var u db.DownloadUpdate
	changed := func(name string) { result.ChangedFields = append(result.ChangedFields, name) }

	if fresh.Title != d.Title {
		u.Title = &fresh.Title
		changed("title")
	}
	if fresh.Description != d.Description {
		u.Description = &fresh.Description
		changed("description")
	}
	if fresh.SourceURL != "" && fresh.SourceURL != d.SourceURL {
		u.SourceURL = &fresh.SourceURL
		changed("source_url")
	}
	if !fresh.Published.IsZero() && !fresh.Published.Equal(d.Published) {
		u.Published = &fresh.Published
		changed("published")
	}
	if d.Duration == 0 && fresh.Duration > 0 {
		u.Duration = &fresh.Duration
		changed("duration")
	}
	if fresh.RemoteThumbnailURL != nil && !equalPtr(fresh.RemoteThumbnailURL, d.RemoteThumbnailURL) {
		u.RemoteThumbnailURL = fresh.RemoteThumbnailURL
		result.ThumbnailURLChanged = true
		changed("remote_thumbnail_url")
	}
	if fresh.TranscriptLang != nil && !equalPtr(fresh.TranscriptLang, d.TranscriptLang) {
		u.TranscriptLang = fresh.TranscriptLang
		result.TranscriptMetadataChanged = true
		changed("transcript_lang")
	}
	if fresh.TranscriptSource != nil && (d.TranscriptSource == nil || *fresh.TranscriptSource != *d.TranscriptSource) {
		u.TranscriptSource = fresh.TranscriptSource
		result.TranscriptMetadataChanged = true
		changed("transcript_source")
	}

	if len(result.ChangedFields) > 0 {
		if err := e.downloads.UpdateDownload(ctx, d.FeedID, d.ID, u); err != nil {
			return nil, err
		}
	}

	updated, err := e.downloads.GetDownloadByID(ctx, d.FeedID, d.ID)
	if err != nil {
		return nil, err
	}
	result.Download = updated
	return result, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
