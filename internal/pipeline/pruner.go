// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/db"
	"github.com/anypod/anypod/internal/files"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/paths"
)

// Pruner enforces retention: excess or stale downloads are archived and
// their on-disk files removed.
type Pruner struct {
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	paths     *paths.Manager
	files     *files.Manager
	logger    zerolog.Logger
}

// NewPruner creates a pruner.
func NewPruner(feeds *db.FeedStore, downloads *db.DownloadStore, pm *paths.Manager, fm *files.Manager) *Pruner {
	return &Pruner{
		feeds:     feeds,
		downloads: downloads,
		paths:     pm,
		files:     fm,
		logger:    xlog.WithComponent("pruner"),
	}
}

// PruneFeedDownloads archives the union of keep-last overflow and
// pre-cutoff items. keepLast nil or <= 0 disables that rule;
// pruneBefore nil disables the date rule. Individual failures are
// collected, not fatal to the batch.
func (p *Pruner) PruneFeedDownloads(ctx context.Context, feedID string, keepLast *int, pruneBefore *time.Time) (archivedCount, filesDeleted int, err error) {
	candidates := make(map[string]*model.Download)

	if keepLast != nil && *keepLast > 0 {
		overflow, err := p.downloads.GetDownloadsToPruneByKeepLast(ctx, feedID, *keepLast)
		if err != nil {
			return 0, 0, &PruneError{FeedID: feedID, Err: err}
		}
		for _, d := range overflow {
			candidates[d.ID] = d
		}
	}
	if pruneBefore != nil {
		stale, err := p.downloads.GetDownloadsToPruneBySince(ctx, feedID, pruneBefore.UTC())
		if err != nil {
			return 0, 0, &PruneError{FeedID: feedID, Err: err}
		}
		for _, d := range stale {
			candidates[d.ID] = d
		}
	}

	var errs *multierror.Error
	for _, d := range candidates {
		deleted, err := p.archiveOne(ctx, d)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		archivedCount++
		filesDeleted += deleted
	}

	if archivedCount > 0 {
		p.logger.Info().Str("event", "prune.done").Str("feed_id", feedID).
			Int("archived", archivedCount).Int("files_deleted", filesDeleted).Msg("prune phase finished")
	}
	if e := errs.ErrorOrNil(); e != nil {
		return archivedCount, filesDeleted, &PruneError{FeedID: feedID, Err: e}
	}
	return archivedCount, filesDeleted, nil
}

// ArchiveFeed archives every non-terminal item, deletes their files, and
// disables the feed. The reconciler calls this when a feed leaves the
// configuration.
func (p *Pruner) ArchiveFeed(ctx context.Context, feedID string) (archivedCount int, err error) {
	var errs *multierror.Error
	for _, status := range []model.DownloadStatus{
		model.StatusDownloaded, model.StatusQueued, model.StatusUpcoming, model.StatusError,
	} {
		items, err := p.downloads.GetDownloadsByStatus(ctx, status, feedID, nil, -1, 0)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, d := range items {
			if _, err := p.archiveOne(ctx, d); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			archivedCount++
		}
	}

	if err := p.feeds.SetFeedEnabled(ctx, feedID, false); err != nil {
		errs = multierror.Append(errs, err)
	}

	p.logger.Info().Str("event", "prune.feed_archived").Str("feed_id", feedID).
		Int("archived", archivedCount).Msg("feed archived")
	if e := errs.ErrorOrNil(); e != nil {
		return archivedCount, &PruneError{FeedID: feedID, Err: e}
	}
	return archivedCount, nil
}

// archiveOne deletes the item's files when it was DOWNLOADED, then
// archives the row. A file already gone counts as deleted work done.
func (p *Pruner) archiveOne(ctx context.Context, d *model.Download) (filesDeleted int, err error) {
	if d.Status == model.StatusDownloaded {
		filesDeleted += p.deleteFile(d.FeedID, d.ID, d.Ext)
		if d.ThumbnailExt != nil {
			filesDeleted += p.deleteFile(d.FeedID, d.ID, *d.ThumbnailExt)
		}
		if d.TranscriptExt != nil {
			filesDeleted += p.deleteFile(d.FeedID, d.ID, *d.TranscriptExt)
		}
	}
	if err := p.downloads.ArchiveDownload(ctx, d.FeedID, d.ID); err != nil {
		return filesDeleted, err
	}
	return filesDeleted, nil
}

func (p *Pruner) deleteFile(feedID, downloadID, ext string) int {
	path, err := p.paths.MediaPath(feedID, downloadID, ext)
	if err != nil {
		p.logger.Warn().Str("event", "prune.path_rejected").Str("feed_id", feedID).
			Str("download_id", downloadID).Err(err).Msg("file path rejected")
		return 0
	}
	deleted, err := p.files.Delete(path)
	if err != nil {
		p.logger.Warn().Str("event", "prune.delete_failed").Str("feed_id", feedID).
			Str("download_id", downloadID).Err(err).Msg("file delete failed")
		return 0
	}
	if deleted {
		return 1
	}
	return 0
}
