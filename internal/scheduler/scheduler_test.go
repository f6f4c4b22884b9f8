// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner records processed feed IDs and can hold each run until
// released.
type blockingRunner struct {
	mu        sync.Mutex
	processed []string
	started   chan string
	release   chan struct{}
	inFlight  atomic.Int32
	maxSeen   atomic.Int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) ProcessFeed(ctx context.Context, feedID string) error {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxSeen.Load()
		if n <= prev || r.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}

	r.started <- feedID
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	r.processed = append(r.processed, feedID)
	r.mu.Unlock()
	return nil
}

func (r *blockingRunner) done() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.processed))
	copy(out, r.processed)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestTriggerCoalescesWhilePending(t *testing.T) {
	r := newBlockingRunner()
	s := New(r)
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	// Occupy the slot with another feed so "tech" stays pending.
	require.NoError(t, s.Trigger("blocker"))
	<-r.started

	require.NoError(t, s.Trigger("tech"))
	err := s.Trigger("tech")
	assert.ErrorIs(t, err, ErrAlreadyPending)

	close(r.release)
	waitFor(t, func() bool { return len(r.done()) == 2 })
	assert.ElementsMatch(t, []string{"blocker", "tech"}, r.done())
}

func TestRunsAreSerialized(t *testing.T) {
	r := newBlockingRunner()
	s := New(r)
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	require.NoError(t, s.Trigger("a"))
	require.NoError(t, s.Trigger("b"))
	require.NoError(t, s.Trigger("c"))

	close(r.release)
	waitFor(t, func() bool { return len(r.done()) == 3 })
	assert.Equal(t, int32(1), r.maxSeen.Load(), "one pipeline at a time")
}

func TestTriggerDuringProcessingQueuesFreshRun(t *testing.T) {
	r := newBlockingRunner()
	s := New(r)
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	require.NoError(t, s.Trigger("tech"))
	<-r.started // run holds the slot; pending flag is cleared

	// New items may have appeared upstream mid-run.
	require.NoError(t, s.Trigger("tech"))

	close(r.release)
	waitFor(t, func() bool { return len(r.done()) == 2 })
	assert.Equal(t, []string{"tech", "tech"}, r.done())
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	s := New(newBlockingRunner())
	assert.Error(t, s.Register("tech", "not a cron expr"))
	assert.NoError(t, s.Register("tech", "*/15 * * * *"))
	assert.NoError(t, s.Register("tech", "@hourly"))
}

func TestRegisterEmptyScheduleRemovesTrigger(t *testing.T) {
	s := New(newBlockingRunner())
	require.NoError(t, s.Register("tech", "@hourly"))
	require.NoError(t, s.Register("tech", ""))

	s.mu.Lock()
	_, ok := s.entries["tech"]
	s.mu.Unlock()
	assert.False(t, ok)

	// Unregister of an absent feed is a no-op.
	s.Unregister("tech")
}

func TestStopCancelsInFlightRun(t *testing.T) {
	r := newBlockingRunner()
	s := New(r)
	s.Start(context.Background())

	require.NoError(t, s.Trigger("tech"))
	<-r.started

	// Never released; Stop must cancel the run's context instead.
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(stopCtx))
	assert.Empty(t, r.done())
}
