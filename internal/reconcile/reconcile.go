// SPDX-License-Identifier: MIT

// Package reconcile synchronizes the YAML configuration with persisted
// feed state. It runs at startup and after every config reload.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/pipeline"
)

// ReconciliationError is a per-feed reconciliation failure. The failing
// feed is omitted from the ready list; others proceed.
type ReconciliationError struct {
	FeedID string
	Err    error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile feed %s: %v", e.FeedID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// Reconciler bridges feed configuration and the database.
type Reconciler struct {
	feeds     *db.FeedStore
	downloads *db.DownloadStore
	pruner    *pipeline.Pruner
	source    pipeline.MediaSource
	logger    zerolog.Logger

	cookiesPath string
}

// NewReconciler creates a reconciler.
func NewReconciler(
	feeds *db.FeedStore,
	downloads *db.DownloadStore,
	pruner *pipeline.Pruner,
	source pipeline.MediaSource,
	cookiesPath string,
) *Reconciler {
	return &Reconciler{
		feeds:       feeds,
		downloads:   downloads,
		pruner:      pruner,
		source:      source,
		logger:      xlog.WithComponent("reconciler"),
		cookiesPath: cookiesPath,
	}
}

// ReconcileStartupState walks config ∪ db and returns the ids of
// enabled, successfully reconciled feeds, ready for scheduling.
func (r *Reconciler) ReconcileStartupState(ctx context.Context, feedConfigs map[string]*config.FeedConfig) ([]string, error) {
	existing, err := r.feeds.GetFeeds(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load feeds: %w", err)
	}
	inDB := make(map[string]*model.Feed, len(existing))
	for _, f := range existing {
		inDB[f.ID] = f
	}

	var ready []string
	for id, cfg := range feedConfigs {
		var err error
		if feed, ok := inDB[id]; ok {
			err = r.reconcileExisting(ctx, feed, cfg)
		} else {
			err = r.createFeed(ctx, id, cfg)
		}
		if err != nil {
			r.logger.Error().Str("event", "reconcile.feed_failed").Str("feed_id", id).
				Err(&ReconciliationError{FeedID: id, Err: err}).Msg("feed reconciliation failed")
			continue
		}
		if cfg.IsEnabled() {
			ready = append(ready, id)
		}
	}

	// Feeds that left the configuration get archived once.
	for id, feed := range inDB {
		if _, ok := feedConfigs[id]; ok {
			continue
		}
		if !feed.IsEnabled {
			continue
		}
		if _, err := r.pruner.ArchiveFeed(ctx, id); err != nil {
			r.logger.Error().Str("event", "reconcile.archive_failed").Str("feed_id", id).
				Err(err).Msg("archiving removed feed failed")
		}
	}

	sort.Strings(ready)
	r.logger.Info().Str("event", "reconcile.done").Int("ready", len(ready)).
		Int("configured", len(feedConfigs)).Msg("state reconciliation finished")
	return ready, nil
}

// createFeed materializes a configured feed that has no DB row yet.
func (r *Reconciler) createFeed(ctx context.Context, id string, cfg *config.FeedConfig) error {
	feed := &model.Feed{
		ID:         id,
		IsEnabled:  cfg.IsEnabled(),
		SourceType: model.SourceTypeManual,
		Title:      id,
		Since:      cfg.SinceUTC(),
		KeepLast:   cfg.KeepLast,
	}
	if since := cfg.SinceUTC(); since != nil {
		feed.LastSuccessfulSync = *since
	} else {
		feed.LastSuccessfulSync = model.MinSyncDate
	}
	if cfg.TranscriptLang != nil {
		feed.TranscriptLang = cfg.TranscriptLang
	}
	if cfg.TranscriptSourcePriority != nil {
		feed.TranscriptSourcePriority = cfg.TranscriptSourcePriority
	}

	if cfg.URL != nil {
		resolved, sourceType, err := r.source.DetermineFetchStrategy(ctx, id, *cfg.URL, cfg.YtArgs, r.cookiesPath)
		if err != nil {
			return err
		}
		feed.SourceURL = cfg.URL
		feed.ResolvedURL = &resolved
		feed.SourceType = sourceType
	}

	cfg.Metadata.Apply(feed)
	if err := r.feeds.UpsertFeed(ctx, feed); err != nil {
		return err
	}
	r.logger.Info().Str("event", "reconcile.feed_created").Str("feed_id", id).
		Str("source_type", string(feed.SourceType)).Msg("feed created from config")
	return nil
}

// reconcileExisting applies config drift to a known feed: URL changes,
// enable flips, metadata overrides, then retention-policy expansion.
func (r *Reconciler) reconcileExisting(ctx context.Context, feed *model.Feed, cfg *config.FeedConfig) error {
	urlChanged := cfg.URL != nil && (feed.SourceURL == nil || *feed.SourceURL != *cfg.URL)
	if urlChanged {
		resolved, sourceType, err := r.source.DetermineFetchStrategy(ctx, feed.ID, *cfg.URL, cfg.YtArgs, r.cookiesPath)
		if err != nil {
			return err
		}
		feed.SourceURL = cfg.URL
		feed.ResolvedURL = &resolved
		feed.SourceType = sourceType
	}

	enabling := cfg.IsEnabled() && !feed.IsEnabled
	feed.IsEnabled = cfg.IsEnabled()

	// Error history from another source or a disabled period is stale.
	if urlChanged || enabling {
		feed.ConsecutiveFailures = 0
		feed.LastFailedSync = nil
	}

	oldSince, oldKeepLast := feed.Since, feed.KeepLast
	feed.Since = cfg.SinceUTC()
	feed.KeepLast = cfg.KeepLast
	if cfg.TranscriptLang != nil {
		feed.TranscriptLang = cfg.TranscriptLang
	}
	if cfg.TranscriptSourcePriority != nil {
		feed.TranscriptSourcePriority = cfg.TranscriptSourcePriority
	}
	cfg.Metadata.Apply(feed)

	if err := r.feeds.UpsertFeed(ctx, feed); err != nil {
		return err
	}

	return r.applyRetentionExpansion(ctx, feed, oldSince, oldKeepLast)
}

// applyRetentionExpansion restores ARCHIVED items when the policy got
// looser. Stricter policies need no action here: the next regular prune
// trims.
func (r *Reconciler) applyRetentionExpansion(ctx context.Context, feed *model.Feed, oldSince *time.Time, oldKeepLast *int) error {
	sinceExpanded := oldSince != nil && (feed.Since == nil || feed.Since.Before(*oldSince))
	keepLastGrew := oldKeepLast != nil && (feed.KeepLast == nil || *feed.KeepLast > *oldKeepLast)
	if !sinceExpanded && !keepLastGrew {
		return nil
	}

	// Unbounded unless keep_last caps the restorable count.
	quota := -1
	if feed.KeepLast != nil {
		quota = *feed.KeepLast - feed.TotalDownloads
		if quota <= 0 {
			return nil
		}
	}

	archived, err := r.downloads.GetDownloadsByStatusDesc(ctx, model.StatusArchived, feed.ID)
	if err != nil {
		return err
	}

	var ids []string
	for _, d := range archived {
		if feed.Since != nil && d.Published.Before(*feed.Since) {
			continue
		}
		ids = append(ids, d.ID)
		if quota > 0 && len(ids) >= quota {
			break
		}
	}
	if len(ids) == 0 {
		return nil
	}

	from := model.StatusArchived
	n, err := r.downloads.RequeueDownloads(ctx, feed.ID, ids, &from)
	if err != nil {
		return err
	}
	r.logger.Info().Str("event", "reconcile.restored").Str("feed_id", feed.ID).
		Int64("restored", n).Msg("archived items requeued after policy expansion")
	return nil
}
