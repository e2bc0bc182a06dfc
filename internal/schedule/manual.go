// SPDX-License-Identifier: MIT

package schedule

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	xlog "github.com/anypod/anypod/internal/log"
)

// ManualFeedRunner fires the pipeline for feeds whose schedule is the
// literal token "manual". Triggers coalesce: while a task is queued or
// running for a feed, further triggers are no-ops.
type ManualFeedRunner struct {
	sem     *semaphore.Weighted
	guard   *Guard
	process ProcessFunc
	logger  zerolog.Logger

	mu     sync.Mutex
	queued map[string]bool
	wg     sync.WaitGroup
}

// NewManualFeedRunner creates a runner sharing the scheduler's guard and
// global semaphore.
func NewManualFeedRunner(sem *semaphore.Weighted, guard *Guard, process ProcessFunc) *ManualFeedRunner {
	return &ManualFeedRunner{
		sem:     sem,
		guard:   guard,
		process: process,
		logger:  xlog.WithComponent("manual-runner"),
		queued:  make(map[string]bool),
	}
}

// Trigger schedules one pipeline run for the feed. Returns true if a run
// was started, false if one was already queued or running.
func (r *ManualFeedRunner) Trigger(ctx context.Context, feedID string) bool {
	r.mu.Lock()
	if r.queued[feedID] {
		r.mu.Unlock()
		r.logger.Debug().
			Str("event", "manual.trigger_coalesced").
			Str("feed_id", feedID).
			Msg("trigger coalesced, task already queued")
		return false
	}
	if r.guard.IsRunning(feedID) {
		r.mu.Unlock()
		r.logger.Debug().
			Str("event", "manual.trigger_coalesced").
			Str("feed_id", feedID).
			Msg("trigger coalesced, task already running")
		return false
	}
	r.queued[feedID] = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, feedID)

	r.logger.Info().
		Str("event", "manual.triggered").
		Str("feed_id", feedID).
		Msg("manual feed run queued")
	return true
}

// Wait blocks until all triggered runs complete. Used during shutdown.
func (r *ManualFeedRunner) Wait() {
	r.wg.Wait()
}

func (r *ManualFeedRunner) run(ctx context.Context, feedID string) {
	defer r.wg.Done()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.dequeue(feedID)
		return
	}
	defer r.sem.Release(1)

	// The task leaves the queued map once it holds a slot; from here the
	// shared guard owns overlap protection.
	r.dequeue(feedID)
	if !r.guard.TryStart(feedID) {
		return
	}
	defer r.guard.Done(feedID)

	ctx = xlog.ContextWithFeedID(ctx, feedID)
	if err := r.process(ctx, feedID); err != nil {
		r.logger.Error().
			Err(err).
			Str("event", "manual.run_failed").
			Str("feed_id", feedID).
			Msg("manual feed run failed")
	}
}

func (r *ManualFeedRunner) dequeue(feedID string) {
	r.mu.Lock()
	delete(r.queued, feedID)
	r.mu.Unlock()
}
