// SPDX-License-Identifier: MIT

package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	xlog "github.com/anypod/anypod/internal/log"
)

// ProcessFunc runs the full pipeline for one feed. The scheduler treats
// errors as job failures to log, never as reasons to stop ticking.
type ProcessFunc func(ctx context.Context, feedID string) error

// Guard tracks which feeds have a pipeline task in flight. The scheduler
// and the manual runner share one guard so triggers and ticks never
// overlap for the same feed.
type Guard struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{running: make(map[string]bool)}
}

// TryStart marks the feed as running. Returns false if it already is.
func (g *Guard) TryStart(feedID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[feedID] {
		return false
	}
	g.running[feedID] = true
	return true
}

// Done clears the running mark for the feed.
func (g *Guard) Done(feedID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, feedID)
}

// IsRunning reports whether the feed currently has a task in flight.
func (g *Guard) IsRunning(feedID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[feedID]
}

// Scheduler fires the per-feed pipeline on each feed's cron schedule.
//
// Guarantees: at most one in-flight task per feed (overlapping ticks are
// dropped with a warning), and a process-wide semaphore caps the number
// of feeds processed concurrently. Tasks beyond the cap wait.
type Scheduler struct {
	cron    *cron.Cron
	sem     *semaphore.Weighted
	guard   *Guard
	process ProcessFunc
	logger  zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler with the given global concurrency cap.
// The guard is shared with the manual runner.
func NewScheduler(maxConcurrent int64, guard *Guard, process ProcessFunc) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		sem:     semaphore.NewWeighted(maxConcurrent),
		guard:   guard,
		process: process,
		logger:  xlog.WithComponent("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Semaphore exposes the global feed cap for the manual runner.
func (s *Scheduler) Semaphore() *semaphore.Weighted {
	return s.sem
}

// Add registers (or replaces) a feed's cron entry.
func (s *Scheduler) Add(feedID, expr string) error {
	sched, err := ParseCron(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[feedID]; ok {
		s.cron.Remove(old)
	}
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.runFeed(feedID)
	}))
	s.entries[feedID] = id

	s.logger.Info().
		Str("event", "scheduler.feed_added").
		Str("feed_id", feedID).
		Str("schedule", expr).
		Msg("feed scheduled")
	return nil
}

// Remove drops a feed's cron entry if present.
func (s *Scheduler) Remove(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[feedID]; ok {
		s.cron.Remove(id)
		delete(s.entries, feedID)
	}
}

// Start begins dispatching ticks. The supplied context is the root
// context for all dispatched pipeline tasks.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info().Str("event", "scheduler.started").Int("feeds", len(s.entries)).Msg("scheduler started")
}

// Stop stops accepting new ticks. With waitForJobs it blocks until all
// in-flight tasks return; otherwise in-flight tasks are cancelled
// cooperatively and awaited.
func (s *Scheduler) Stop(waitForJobs bool) {
	stopped := s.cron.Stop()
	<-stopped.Done()
	if !waitForJobs && s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Str("event", "scheduler.stopped").Bool("waited", waitForJobs).Msg("scheduler stopped")
}

func (s *Scheduler) runFeed(feedID string) {
	if !s.guard.TryStart(feedID) {
		s.logger.Warn().
			Str("event", "scheduler.tick_dropped").
			Str("feed_id", feedID).
			Msg("previous run still in flight, dropping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.guard.Done(feedID)

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return // shutting down
		}
		defer s.sem.Release(1)

		ctx := xlog.ContextWithFeedID(s.ctx, feedID)
		started := time.Now()
		if err := s.process(ctx, feedID); err != nil {
			s.logger.Error().
				Err(err).
				Str("event", "scheduler.job_failed").
				Str("feed_id", feedID).
				Dur("elapsed", time.Since(started)).
				Msg("feed processing failed")
			return
		}
		s.logger.Debug().
			Str("event", "scheduler.job_done").
			Str("feed_id", feedID).
			Dur("elapsed", time.Since(started)).
			Msg("feed processing finished")
	}()
}
