package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"

	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/pushes"
	"github.com/livinlefevreloca/treeherd/internal/testutil"
)

type fakePoller struct {
	mu    sync.Mutex
	mode  pushes.PollMode
	err   error
	block bool
	calls atomic.Int32

	started   chan struct{}
	cancelled chan struct{}
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		started:   make(chan struct{}, 10),
		cancelled: make(chan struct{}, 10),
	}
}

func (p *fakePoller) PollMode() pushes.PollMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *fakePoller) PollPushes(ctx context.Context) error {
	p.calls.Add(1)
	p.started <- struct{}{}

	p.mu.Lock()
	block, err := p.block, p.err
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		p.cancelled <- struct{}{}
		return ctx.Err()
	}
	return err
}

func newTestScheduler(t *testing.T, poller Poller) (*Scheduler, *fakeclock.FakeClock) {
	t.Helper()
	clk := fakeclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	config := Config{PollInterval: time.Minute, PollTimeout: 50 * time.Second}
	s, err := NewScheduler(config, poller, clk, metrics.New(), testutil.NewTestLogger().Logger())
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return s, clk
}

// =============================================================================
// Initialization Tests
// =============================================================================

// TestNewScheduler_InvalidConfig verifies that invalid configuration is rejected.
func TestNewScheduler_InvalidConfig(t *testing.T) {
	clk := fakeclock.NewFakeClock(time.Now())
	_, err := NewScheduler(Config{}, newFakePoller(), clk, nil, testutil.NewTestLogger().Logger())
	if err == nil {
		t.Error("expected error for zero poll interval")
	}
}

// =============================================================================
// Loop Tests
// =============================================================================

// TestScheduler_PollsOnEachTick verifies one poll per tick and none before the first tick.
func TestScheduler_PollsOnEachTick(t *testing.T) {
	poller := newFakePoller()
	s, clk := newTestScheduler(t, poller)
	go s.Start(context.Background())
	defer s.Shutdown()

	clk.WaitForWatcherAndIncrement(30 * time.Second)
	if poller.calls.Load() != 0 {
		t.Fatal("expected no poll before the interval elapsed")
	}

	clk.Increment(30 * time.Second)
	testutil.WaitFor(t, func() bool { return poller.calls.Load() == 1 }, time.Second, "first poll")

	clk.WaitForWatcherAndIncrement(time.Minute)
	testutil.WaitFor(t, func() bool { return poller.calls.Load() == 2 }, time.Second, "second poll")

	if got := s.GetStats().Ticks; got != 2 {
		t.Errorf("expected 2 ticks, got %d", got)
	}
}

// TestScheduler_FailureDoesNotStopPolling verifies a failed tick is retried on the next one.
func TestScheduler_FailureDoesNotStopPolling(t *testing.T) {
	poller := newFakePoller()
	poller.err = errors.New("backend unavailable")
	poller.mode = pushes.PollSingleRevision
	s, clk := newTestScheduler(t, poller)
	go s.Start(context.Background())
	defer s.Shutdown()

	clk.WaitForWatcherAndIncrement(time.Minute)
	testutil.WaitFor(t, func() bool { return s.GetStats().Failures == 1 }, time.Second, "first failure")

	clk.WaitForWatcherAndIncrement(time.Minute)
	testutil.WaitFor(t, func() bool { return s.GetStats().Failures == 2 }, time.Second, "second failure")

	stats := s.GetStats()
	if stats.LastError != "backend unavailable" {
		t.Errorf("expected last error to be recorded, got %q", stats.LastError)
	}
	if stats.LastMode != "single_revision" {
		t.Errorf("expected single_revision mode, got %s", stats.LastMode)
	}
}

// TestScheduler_ShutdownCancelsInFlightPoll verifies teardown cancels a running poll.
func TestScheduler_ShutdownCancelsInFlightPoll(t *testing.T) {
	poller := newFakePoller()
	poller.block = true
	s, clk := newTestScheduler(t, poller)
	go s.Start(context.Background())

	clk.WaitForWatcherAndIncrement(time.Minute)
	select {
	case <-poller.started:
	case <-time.After(time.Second):
		t.Fatal("poll never started")
	}

	s.Shutdown()

	select {
	case <-poller.cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight poll was not cancelled")
	}
	if got := s.GetStats().Failures; got != 0 {
		t.Errorf("a cancelled poll is not a failure, got %d failures", got)
	}
}

// TestScheduler_NoPollAfterShutdown verifies the timer is released on shutdown.
func TestScheduler_NoPollAfterShutdown(t *testing.T) {
	poller := newFakePoller()
	s, clk := newTestScheduler(t, poller)
	go s.Start(context.Background())

	clk.WaitForWatcherAndIncrement(time.Minute)
	testutil.WaitFor(t, func() bool { return poller.calls.Load() == 1 }, time.Second, "first poll")

	s.Shutdown()
	s.Shutdown()
	clk.Increment(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)

	if got := poller.calls.Load(); got != 1 {
		t.Errorf("expected no polls after shutdown, got %d", got)
	}
	select {
	case <-s.Done():
	default:
		t.Error("expected Done to be closed")
	}
}

// TestScheduler_ContextCancelStops verifies the loop exits with its context.
func TestScheduler_ContextCancelStops(t *testing.T) {
	s, _ := newTestScheduler(t, newFakePoller())
	ctx, cancel := context.WithCancel(context.Background())

	go s.Start(ctx)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}
