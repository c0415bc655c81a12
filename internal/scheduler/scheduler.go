// Package scheduler polls the push repository on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/livinlefevreloca/treeherd/internal/metrics"
	"github.com/livinlefevreloca/treeherd/internal/pushes"
)

// Poller is the repository side of a polling tick
type Poller interface {
	PollMode() pushes.PollMode
	PollPushes(ctx context.Context) error
}

// Stats provides high-level scheduler statistics
type Stats struct {
	Ticks       int64
	Failures    int64
	LastPollAt  time.Time
	LastError   string
	LastMode    string
	LastElapsed time.Duration
}

// Scheduler runs one poll per tick. A failed poll is logged and counted;
// the next tick retries on the same fixed interval.
type Scheduler struct {
	// Configuration
	config Config
	poller Poller
	clock  clock.Clock
	logger *slog.Logger

	metrics *metrics.Metrics

	// Stats
	ticks    atomic.Int64
	failures atomic.Int64
	statsMu  sync.Mutex
	last     Stats

	// Control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewScheduler creates a new scheduler with validated configuration
func NewScheduler(config Config, poller Poller, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Scheduler{
		config:   config,
		poller:   poller,
		clock:    clk,
		logger:   logger,
		metrics:  m,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the main loop until ctx is done or Shutdown is called
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler", "poll_interval", s.config.PollInterval)
	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// a poll in flight is cancelled as soon as shutdown is requested
	go func() {
		select {
		case <-s.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.run(ctx)
}

// Shutdown stops the loop, cancels any poll in flight and waits for the
// loop to exit. It is safe to call more than once.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
	<-s.done
}

// Done is closed once the loop has exited
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			s.logger.Info("scheduler shutting down")
			return

		case <-ctx.Done():
			s.logger.Info("scheduler context done")
			return

		case <-ticker.C():
			s.iteration(ctx)
		}
	}
}

// iteration performs a single poll
func (s *Scheduler) iteration(ctx context.Context) {
	start := s.clock.Now()
	mode := s.poller.PollMode()
	s.ticks.Add(1)
	s.metrics.PollTick()

	pollCtx, cancel := context.WithTimeout(ctx, s.config.PollTimeout)
	err := s.poller.PollPushes(pollCtx)
	cancel()

	elapsed := s.clock.Since(start)
	s.recordIteration(start, mode, elapsed, err)

	switch {
	case err == nil:
		s.logger.Debug("poll complete", "mode", mode.String(), "duration", elapsed)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		s.logger.Debug("poll cancelled by shutdown", "mode", mode.String())
	default:
		s.failures.Add(1)
		s.metrics.PollFailure()
		s.logger.Warn("poll failed, retrying next tick",
			"mode", mode.String(),
			"duration", elapsed,
			"error", err)
	}
}

func (s *Scheduler) recordIteration(at time.Time, mode pushes.PollMode, elapsed time.Duration, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.last.LastPollAt = at
	s.last.LastMode = mode.String()
	s.last.LastElapsed = elapsed
	s.last.LastError = ""
	if err != nil {
		s.last.LastError = err.Error()
	}
}

// GetStats returns a copy of the scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	stats := s.last
	stats.Ticks = s.ticks.Load()
	stats.Failures = s.failures.Load()
	return stats
}
