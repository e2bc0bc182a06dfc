// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/anypod/anypod/internal/config"
	"github.com/anypod/anypod/internal/db"
	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/metrics"
	"github.com/anypod/anypod/internal/model"
	"github.com/anypod/anypod/internal/paths"
	"github.com/anypod/anypod/internal/rss"
)

// Phase names as reported in results, logs and metrics.
const (
	PhaseEnqueue  = "enqueue"
	PhaseDownload = "download"
	PhasePrune    = "prune"
	PhaseRSS      = "rss"
)

// PhaseResult is the outcome of one pipeline phase.
type PhaseResult struct {
	Phase    string
	Success  bool
	Count    int
	Duration time.Duration
	Err      error
}

// ProcessingResults is the outcome of one full per-feed run.
type ProcessingResults struct {
	FeedID         string
	StartedAt      time.Time
	Phases         []PhaseResult
	OverallSuccess bool
}

// PhaseByName returns the named phase result, or nil.
func (r *ProcessingResults) PhaseByName(name string) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Phase == name {
			return &r.Phases[i]
		}
	}
	return nil
}

// Err aggregates every phase error.
func (r *ProcessingResults) Err() error {
	var errs *multierror.Error
	for _, p := range r.Phases {
		if p.Err != nil {
			errs = multierror.Append(errs, p.Err)
		}
	}
	return errs.ErrorOrNil()
}

// FeedImageFetcher materializes remote cover art under the data
// directory and returns the recorded extension.
type FeedImageFetcher interface {
	FetchHTTP(ctx context.Context, url, finalBase string) (string, error)
}

// DataCoordinator drives the four phases for one feed. A phase failure
// does not stop later phases: a feed with a broken upstream still
// delivers already-queued media and regenerates its document.
type DataCoordinator struct {
	feeds      *db.FeedStore
	enqueuer   *Enqueuer
	downloader *Downloader
	pruner     *Pruner
	rss        *rss.Generator
	images     FeedImageFetcher
	paths      *paths.Manager
	logger     zerolog.Logger

	cookiesPath string
}

// NewDataCoordinator creates a coordinator. images may be nil to
// disable cover art materialization.
func NewDataCoordinator(
	feeds *db.FeedStore,
	enq *Enqueuer,
	dl *Downloader,
	pr *Pruner,
	gen *rss.Generator,
	imageDL FeedImageFetcher,
	pm *paths.Manager,
	cookiesPath string,
) *DataCoordinator {
	return &DataCoordinator{
		feeds:       feeds,
		enqueuer:    enq,
		downloader:  dl,
		pruner:      pr,
		rss:         gen,
		images:      imageDL,
		paths:       pm,
		logger:      xlog.WithComponent("coordinator"),
		cookiesPath: cookiesPath,
	}
}

// ProcessFeed runs Enqueue, Download, Prune and RSS in order.
//
// last_successful_sync advances when the enqueue phase succeeded, even
// if delivery phases failed: the watermark tracks "publications up to
// this instant have been enumerated", and failed items stay QUEUED or
// ERROR for the next run regardless.
func (c *DataCoordinator) ProcessFeed(ctx context.Context, feedID string, cfg *config.FeedConfig) (*ProcessingResults, error) {
	logger := c.logger.With().Str("feed_id", feedID).Logger()
	results := &ProcessingResults{FeedID: feedID, StartedAt: time.Now().UTC()}

	metrics.FeedsRunning.Inc()
	defer metrics.FeedsRunning.Dec()

	feed, err := c.feeds.GetFeedByID(ctx, feedID)
	if err != nil {
		return results, fmt.Errorf("process feed %s: %w", feedID, err)
	}

	fetchSince := feed.LastSuccessfulSync

	// Enqueue.
	var enqueueResult *EnqueueResult
	c.runPhase(results, PhaseEnqueue, func() (int, error) {
		r, err := c.enqueuer.EnqueueNewDownloads(ctx, feed, cfg, fetchSince, c.cookiesPath)
		enqueueResult = r
		if r == nil {
			return 0, err
		}
		return r.NewlyQueued, err
	})

	// Download.
	c.runPhase(results, PhaseDownload, func() (int, error) {
		success, failure, err := c.downloader.DownloadQueued(ctx, feedID, cfg, c.cookiesPath, -1)
		metrics.DownloadsCompleted.WithLabelValues("success").Add(float64(success))
		metrics.DownloadsCompleted.WithLabelValues("failure").Add(float64(failure))
		if err == nil && failure > 0 {
			err = fmt.Errorf("%d of %d downloads failed for %s", failure, success+failure, feedID)
		}
		return success, err
	})

	// Prune.
	c.runPhase(results, PhasePrune, func() (int, error) {
		archived, _, err := c.pruner.PruneFeedDownloads(ctx, feedID, cfg.KeepLast, cfg.SinceUTC())
		return archived, err
	})

	c.ensureFeedImage(ctx, feed)

	// RSS. Re-read the feed row so trigger-maintained counters and any
	// metadata refreshed this run end up in the document.
	c.runPhase(results, PhaseRSS, func() (int, error) {
		fresh, err := c.feeds.GetFeedByID(ctx, feedID)
		if err != nil {
			return 0, err
		}
		if err := c.rss.UpdateFeed(ctx, feedID, fresh); err != nil {
			return 0, err
		}
		if err := c.feeds.MarkRSSGenerated(ctx, feedID); err != nil {
			return 0, err
		}
		return fresh.TotalDownloads, nil
	})

	c.recordSyncOutcome(ctx, feedID, results, enqueueResult)

	results.OverallSuccess = true
	for _, p := range results.Phases {
		results.OverallSuccess = results.OverallSuccess && p.Success
	}
	outcome := "success"
	if !results.OverallSuccess {
		outcome = "failure"
	}
	metrics.FeedRuns.WithLabelValues(outcome).Inc()
	logger.Info().Str("event", "coordinator.feed_processed").
		Bool("overall_success", results.OverallSuccess).
		Dur("duration", time.Since(results.StartedAt)).Msg("feed processed")
	return results, nil
}

func (c *DataCoordinator) runPhase(results *ProcessingResults, name string, fn func() (int, error)) {
	start := time.Now()
	count, err := fn()
	duration := time.Since(start)

	metrics.PhaseDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		metrics.PhaseFailures.WithLabelValues(name).Inc()
		c.logger.Error().Str("event", "coordinator.phase_failed").Str("feed_id", results.FeedID).
			Str("phase", name).Dur("duration", duration).Err(err).Msg("pipeline phase failed")
	}
	results.Phases = append(results.Phases, PhaseResult{
		Phase:    name,
		Success:  err == nil,
		Count:    count,
		Duration: duration,
		Err:      err,
	})
}

// ensureFeedImage fetches remote cover art once and records image_ext,
// so the document switches from the remote URL to the local copy. Best
// effort: a failed fetch leaves the remote fallback in place.
func (c *DataCoordinator) ensureFeedImage(ctx context.Context, feed *model.Feed) {
	if c.images == nil || feed.ImageExt != nil || feed.RemoteImageURL == nil {
		return
	}

	base, err := c.paths.FeedImageBase(feed.ID)
	if err != nil {
		c.logger.Warn().Str("event", "coordinator.feed_image_failed").Str("feed_id", feed.ID).
			Err(err).Msg("could not resolve cover art path")
		return
	}
	ext, err := c.images.FetchHTTP(ctx, *feed.RemoteImageURL, base)
	if err != nil {
		c.logger.Warn().Str("event", "coordinator.feed_image_failed").Str("feed_id", feed.ID).
			Str("url", *feed.RemoteImageURL).Err(err).Msg("could not fetch cover art")
		return
	}
	if err := c.feeds.UpdateFeedMetadata(ctx, feed.ID, db.FeedUpdate{ImageExt: &ext}); err != nil {
		c.logger.Error().Str("event", "coordinator.feed_image_failed").Str("feed_id", feed.ID).
			Err(err).Msg("could not record cover art extension")
		return
	}
	c.logger.Info().Str("event", "coordinator.feed_image_fetched").Str("feed_id", feed.ID).
		Str("ext", ext).Msg("cover art materialized")
}

// recordSyncOutcome advances or bumps the feed's sync bookkeeping based
// on the enqueue phase. The candidate already carries the catch-up cap
// applied during enumeration, so an idle feed walks its backlog two
// intervals per run.
func (c *DataCoordinator) recordSyncOutcome(ctx context.Context, feedID string, results *ProcessingResults, enq *EnqueueResult) {
	phase := results.PhaseByName(PhaseEnqueue)
	if phase == nil || !phase.Success || enq == nil {
		if err := c.feeds.MarkSyncFailure(ctx, feedID); err != nil {
			c.logger.Error().Str("event", "coordinator.mark_failure_failed").Str("feed_id", feedID).
				Err(err).Msg("could not record sync failure")
		}
		return
	}

	if err := c.feeds.MarkSyncSuccess(ctx, feedID, enq.SyncCandidate); err != nil {
		c.logger.Error().Str("event", "coordinator.mark_success_failed").Str("feed_id", feedID).
			Err(err).Msg("could not record sync success")
	}
}

// ProcessFunc adapts the coordinator to the scheduler's callback shape
// using a config snapshot lookup.
func (c *DataCoordinator) ProcessFunc(lookup func(feedID string) (*config.FeedConfig, bool)) func(ctx context.Context, feedID string) error {
	return func(ctx context.Context, feedID string) error {
		cfg, ok := lookup(feedID)
		if !ok {
			return fmt.Errorf("feed %s: %w", feedID, db.ErrFeedNotFound)
		}
		results, err := c.ProcessFeed(ctx, feedID, cfg)
		if err != nil {
			return err
		}
		return results.Err()
	}
}
