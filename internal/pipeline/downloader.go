// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/extractor"
	"github.com/anypod/anypod/internal/files"
	"github.com/anypod/anypod/internal/images"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/paths"
	"github.com/anypod/anypod/internal/transcripts"
)

// Downloader drains a feed's QUEUED set to DOWNLOADED with per-item
// error isolation: one failed item never blocks the next.
type Downloader struct {
	downloads   *db.DownloadStore
	source      MediaSource
	enqueuer    *Enqueuer
	images      *images.Downloader
	transcripts *transcripts.Downloader
	paths       *paths.Manager
	files       *files.Manager
	logger      zerolog.Logger
}

// NewDownloader creates a downloader.
func NewDownloader(
	downloads *db.DownloadStore,
	source MediaSource,
	enqueuer *Enqueuer,
	img *images.Downloader,
	tr *transcripts.Downloader,
	pm *paths.Manager,
	fm *files.Manager,
) *Downloader {
	return &Downloader{
		downloads:   downloads,
		source:      source,
		enqueuer:    enqueuer,
		images:      img,
		transcripts: tr,
		paths:       pm,
		files:       fm,
		logger:      xlog.WithComponent("downloader"),
	}
}

// DownloadQueued processes the feed's QUEUED items in published order.
// limit -1 means all. Returns per-item success and failure counts.
func (dl *Downloader) DownloadQueued(ctx context.Context, feedID string, cfg *config.FeedConfig, cookiesPath string, limit int) (successCount, failureCount int, err error) {
	queued, err := dl.downloads.GetDownloadsByStatus(ctx, model.StatusQueued, feedID, nil, limit, 0)
	if err != nil {
		return 0, 0, err
	}

	for _, d := range queued {
		if ctx.Err() != nil {
			return successCount, failureCount, ctx.Err()
		}
		if err := dl.downloadOne(ctx, d, cfg, cookiesPath); err != nil {
			failureCount++
			dl.recordFailure(ctx, d, cfg, err)
			continue
		}
		successCount++
	}

	dl.logger.Info().Str("event", "download.done").Str("feed_id", feedID).
		Int("success", successCount).Int("failure", failureCount).Msg("download phase finished")
	return successCount, failureCount, nil
}

func (dl *Downloader) downloadOne(ctx context.Context, d *model.Download, cfg *config.FeedConfig, cookiesPath string) error {
	logger := dl.logger.With().Str("feed_id", d.FeedID).Str("download_id", d.ID).Logger()

	// Metadata refresh is best-effort; a stale title must not block the
	// media fetch.
	if refreshed, err := dl.enqueuer.RefreshMetadata(ctx, d, cfg.YtArgs,
		derefOr(cfg.TranscriptLang, ""), derefOr(cfg.TranscriptSourcePriority, ""), cookiesPath); err != nil {
		logger.Warn().Str("event", "download.refresh_failed").Err(err).Msg("metadata refresh failed")
	} else {
		d = refreshed.Download
	}

	feedDir, err := dl.paths.FeedDir(d.FeedID)
	if err != nil {
		return &extractor.DownloadError{FeedID: d.FeedID, DownloadID: d.ID, Err: err}
	}

	mediaPath, err := dl.source.DownloadMedia(ctx, d, feedDir, cfg.YtArgs, cookiesPath)
	if err != nil {
		return err
	}

	ext := strings.TrimPrefix(filepath.Ext(mediaPath), ".")
	if ext == "" {
		ext = d.Ext
	}
	size, err := dl.files.Size(mediaPath)
	if err != nil {
		return &extractor.DownloadError{FeedID: d.FeedID, DownloadID: d.ID, Err: err}
	}

	dl.fetchThumbnail(ctx, d, feedDir, cfg, cookiesPath)
	dl.fetchTranscript(ctx, d)

	if err := dl.downloads.MarkAsDownloaded(ctx, d.FeedID, d.ID, ext, size); err != nil {
		return err
	}
	logger.Info().Str("event", "download.completed").Str("ext", ext).Int64("filesize", size).Msg("media downloaded")
	return nil
}

// fetchThumbnail is best-effort: a missing thumbnail never fails the item.
func (dl *Downloader) fetchThumbnail(ctx context.Context, d *model.Download, feedDir string, cfg *config.FeedConfig, cookiesPath string) {
	logger := dl.logger.With().Str("feed_id", d.FeedID).Str("download_id", d.ID).Logger()
	finalBase := filepath.Join(feedDir, d.ID)

	var (
		ext string
		err error
	)
	if d.RemoteThumbnailURL != nil {
		ext, err = dl.images.FetchHTTP(ctx, *d.RemoteThumbnailURL, finalBase)
	} else {
		var raw string
		raw, err = dl.source.DownloadThumbnail(ctx, d, feedDir, cfg.YtArgs, cookiesPath)
		if err == nil {
			ext, err = dl.images.Normalize(ctx, raw, finalBase)
		}
	}
	if err != nil {
		logger.Warn().Str("event", "download.thumbnail_failed").Err(err).Msg("thumbnail fetch failed")
		return
	}
	if err := dl.downloads.UpdateDownload(ctx, d.FeedID, d.ID, db.DownloadUpdate{ThumbnailExt: &ext}); err != nil {
		logger.Warn().Str("event", "download.thumbnail_record_failed").Err(err).Msg("thumbnail recorded but not persisted")
	}
}

// fetchTranscript is best-effort and only applies when the enqueue phase
// found an available transcript for the feed's language policy.
func (dl *Downloader) fetchTranscript(ctx context.Context, d *model.Download) {
	if d.TranscriptLang == nil || d.TranscriptSource == nil || *d.TranscriptSource == model.TranscriptSourceNotAvailable {
		return
	}
	if !isYouTubeURL(d.SourceURL) {
		return
	}
	logger := dl.logger.With().Str("feed_id", d.FeedID).Str("download_id", d.ID).Logger()

	dest, err := dl.paths.TranscriptPath(d.FeedID, d.ID, transcripts.VTTExt)
	if err != nil {
		logger.Warn().Str("event", "download.transcript_failed").Err(err).Msg("transcript path rejected")
		return
	}
	ok, err := dl.transcripts.Fetch(ctx, d.ID, *d.TranscriptLang, *d.TranscriptSource, dest)
	if err != nil {
		logger.Warn().Str("event", "download.transcript_failed").Err(err).Msg("transcript fetch failed")
		return
	}
	if !ok {
		return
	}
	ext := transcripts.VTTExt
	if err := dl.downloads.UpdateDownload(ctx, d.FeedID, d.ID, db.DownloadUpdate{TranscriptExt: &ext}); err != nil {
		logger.Warn().Str("event", "download.transcript_record_failed").Err(err).Msg("transcript written but not persisted")
	}
}

func (dl *Downloader) recordFailure(ctx context.Context, d *model.Download, cfg *config.FeedConfig, cause error) {
	retries, status, transitioned, err := dl.downloads.BumpRetries(ctx, d.FeedID, d.ID, cause.Error(), cfg.EffectiveMaxErrors())
	if err != nil {
		dl.logger.Error().Str("event", "download.bump_failed").Str("feed_id", d.FeedID).
			Str("download_id", d.ID).Err(err).Msg("could not record download failure")
		return
	}
	dl.logger.Warn().Str("event", "download.failed").Str("feed_id", d.FeedID).
		Str("download_id", d.ID).Int("retries", retries).Str("status", string(status)).
		Bool("transitioned_to_error", transitioned).Err(cause).Msg("media download failed")
}

func isYouTubeURL(raw string) bool {
	return strings.Contains(raw, "youtube.com/") || strings.Contains(raw, "youtu.be/")
}
