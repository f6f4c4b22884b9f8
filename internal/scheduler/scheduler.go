// SPDX-License-Identifier: MIT

// Package scheduler triggers feed processing on cron schedules and on
// demand. All processing funnels through a single slot so at most one feed
// pipeline runs at a time; triggers arriving for a feed that is already
// waiting coalesce into one run.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/podlift/podlift/internal/log"
	"github.com/podlift/podlift/internal/metrics"
)

// Runner processes one feed end to end. *feed.Coordinator satisfies it.
type Runner interface {
	ProcessFeed(ctx context.Context, feedID string) error
}

// ErrAlreadyPending is returned by Trigger when the feed already has a run
// waiting for the slot.
var ErrAlreadyPending = errors.New("feed run already pending")

// Scheduler owns the cron registry and the global processing slot.
type Scheduler struct {
	runner Runner
	cron   *cron.Cron
	slot   *semaphore.Weighted

	mu      sync.Mutex
	entries map[string]cron.EntryID
	pending map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a stopped scheduler around the given runner.
func New(runner Runner) *Scheduler {
	return &Scheduler{
		runner:  runner,
		cron:    cron.New(cron.WithParser(cronParser)),
		slot:    semaphore.NewWeighted(1),
		entries: make(map[string]cron.EntryID),
		pending: make(map[string]struct{}),
	}
}

// Start begins firing cron triggers. The context bounds every feed run.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	logger := log.WithComponent("scheduler")
	logger.Info().
		Str(log.FieldEvent, "scheduler.start").
		Int("feeds", len(s.entries)).
		Msg("scheduler started")
}

// Stop cancels in-flight runs, stops cron and waits for completion bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	cronDone := s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cronDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Register adds or replaces a cron trigger for a feed. An empty schedule
// (manual feed) removes any existing trigger.
func (s *Scheduler) Register(feedID, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[feedID]; ok {
		s.cron.Remove(id)
		delete(s.entries, feedID)
	}
	if schedule == "" {
		return nil
	}
	id, err := s.cron.AddFunc(schedule, func() {
		if err := s.Trigger(feedID); err != nil && !errors.Is(err, ErrAlreadyPending) {
			logger := log.WithComponent("scheduler")
			logger.Error().Err(err).
				Str(log.FieldFeedID, feedID).
				Msg("cron trigger")
		}
	})
	if err != nil {
		return err
	}
	s.entries[feedID] = id
	return nil
}

// Unregister removes a feed's cron trigger if present.
func (s *Scheduler) Unregister(feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[feedID]; ok {
		s.cron.Remove(id)
		delete(s.entries, feedID)
	}
}

// Trigger queues one processing run for the feed. If a run for this feed is
// already waiting for the slot, the trigger coalesces into it and
// ErrAlreadyPending is returned. A trigger arriving while the feed is being
// processed (pending flag already cleared) queues a fresh run.
func (s *Scheduler) Trigger(feedID string) error {
	s.mu.Lock()
	if _, ok := s.pending[feedID]; ok {
		s.mu.Unlock()
		return ErrAlreadyPending
	}
	s.pending[feedID] = struct{}{}
	s.mu.Unlock()

	metrics.QueuedTasks.Inc()
	s.wg.Add(1)
	go s.run(feedID)
	return nil
}

func (s *Scheduler) run(feedID string) {
	defer s.wg.Done()
	logger := log.WithComponent("scheduler")

	err := s.slot.Acquire(s.ctx, 1)
	metrics.QueuedTasks.Dec()

	// The slot is held; a new trigger for this feed may now queue behind us.
	s.mu.Lock()
	delete(s.pending, feedID)
	s.mu.Unlock()

	if err != nil {
		return // shutting down
	}
	defer s.slot.Release(1)

	if err := s.runner.ProcessFeed(s.ctx, feedID); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).
			Str(log.FieldFeedID, feedID).
			Msg("feed run finished with errors")
	}
}
