// Package syncer writes fetched pushes and jobs to the cache in the
// background so the fetch path never waits on the database.
package syncer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/livinlefevreloca/treeherd/internal/model"
)

// ErrClosed is returned when buffering after Shutdown
var ErrClosed = errors.New("syncer: closed")

// Syncer handles all cache write operations and buffering
type Syncer struct {
	// Configuration
	config Config
	clock  clock.Clock
	logger *slog.Logger

	// Update buffering
	mu              sync.Mutex
	buffer          []CacheUpdate
	bufferedRecords int
	channel         chan CacheUpdate
	lastFlush       time.Time
	closed          bool
	started         bool

	// Stats
	written atomic.Int64
	failed  atomic.Int64

	// Control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup // Tracks background goroutines
}

// NewSyncer creates a new syncer with the specified configuration
func NewSyncer(config Config, clk clock.Clock, logger *slog.Logger) (*Syncer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Syncer{
		config:    config,
		clock:     clk,
		logger:    logger,
		buffer:    make([]CacheUpdate, 0),
		channel:   make(chan CacheUpdate, config.ChannelSize),
		lastFlush: clk.Now(),
		shutdown:  make(chan struct{}),
	}, nil
}

// Buffer queues records of repo for writing. Reaching the flush threshold
// flushes immediately. Returns error if the buffer exceeds its maximum.
func (s *Syncer) Buffer(repo string, pushes []model.Push, jobs []model.Job) error {
	update := CacheUpdate{
		UpdateID: uuid.New().String(),
		Repo:     repo,
		Pushes:   pushes,
		Jobs:     jobs,
	}
	if update.Size() == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.buffer = append(s.buffer, update)
	s.bufferedRecords += update.Size()

	if len(s.buffer) > s.config.MaxBufferedUpdates {
		return fmt.Errorf("cache update buffer exceeded maximum size: %d > %d",
			len(s.buffer), s.config.MaxBufferedUpdates)
	}

	if s.bufferedRecords >= s.config.FlushThreshold {
		return s.flushLocked()
	}
	return nil
}

// Flush sends all buffered updates to the writer channel
// Returns error if channel is full (caller should log and handle)
func (s *Syncer) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Syncer) flushLocked() error {
	if len(s.buffer) == 0 {
		return nil
	}

	sent := 0
	for _, update := range s.buffer {
		select {
		case s.channel <- update:
			sent++
			s.bufferedRecords -= update.Size()
		default:
			s.buffer = s.buffer[sent:]
			return fmt.Errorf("cache channel full, %d updates buffered", len(s.buffer))
		}
	}

	// All sent, clear buffer and update timestamp
	s.buffer = make([]CacheUpdate, 0)
	s.bufferedRecords = 0
	s.lastFlush = s.clock.Now()
	return nil
}

// GetStats returns current syncer statistics
func (s *Syncer) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BufferedUpdates: len(s.buffer),
		BufferedRecords: s.bufferedRecords,
		WrittenUpdates:  s.written.Load(),
		FailedUpdates:   s.failed.Load(),
	}
}

// GetConfig returns the syncer configuration
func (s *Syncer) GetConfig() Config {
	return s.config
}

// GetLastFlushTime returns the timestamp of the last complete flush
func (s *Syncer) GetLastFlushTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFlush
}

// Start launches the writer and the interval flusher
func (s *Syncer) Start(writer Writer) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.wg.Add(2)

	go s.runWriter(writer)
	go s.runFlusher()
}

// runWriter writes updates to the cache
func (s *Syncer) runWriter(writer Writer) {
	defer s.wg.Done()

	for update := range s.channel {
		err := writer.StoreRecords(update.Repo, update.Pushes, update.Jobs)

		if err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to write cache update",
				"update_id", update.UpdateID,
				"repo", update.Repo,
				"error", err)
		} else {
			s.written.Add(1)
			s.logger.Debug("wrote cache update",
				"update_id", update.UpdateID,
				"repo", update.Repo,
				"push_count", len(update.Pushes),
				"job_count", len(update.Jobs))
		}
	}

	s.logger.Debug("cache writer shut down")
}

// runFlusher flushes whatever is buffered once per interval
func (s *Syncer) runFlusher() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C():
			if err := s.Flush(); err != nil {
				s.logger.Warn("interval flush incomplete", "error", err)
			}
		}
	}
}

// Shutdown performs graceful shutdown ensuring all data is persisted
func (s *Syncer) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("starting syncer shutdown")

		// Step 1: Stop the interval flusher
		close(s.shutdown)

		// Step 2: Final flush, then refuse further updates. The channel
		// may be full, so remaining updates are sent blocking.
		s.mu.Lock()
		s.closed = true
		started := s.started
		remaining := s.buffer
		s.buffer = nil
		s.bufferedRecords = 0
		s.mu.Unlock()

		s.logger.Debug("performing final flush", "cache_updates", len(remaining))
		if started {
			for _, update := range remaining {
				s.channel <- update
			}
		} else if len(remaining) > 0 {
			s.logger.Warn("syncer never started, dropping buffered updates", "cache_updates", len(remaining))
		}

		// Step 3: Close the channel so the writer drains it and exits
		close(s.channel)

		// Step 4: Wait for the background goroutines
		s.wg.Wait()

		s.logger.Info("syncer shutdown complete")
	})
	return nil
}
