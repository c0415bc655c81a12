// Package inbox carries typed messages into a component's main loop.
package inbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Inbox provides a generic typed interface for message channels with timeout support
// T is the message type that will be sent through the inbox
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger
	stats   *Stats

	depthMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Stats tracks inbox usage and performance metrics
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	DroppedCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates a new inbox with the specified buffer size and timeout
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
		stats:   &Stats{},
		closed:  make(chan struct{}),
	}
}

// Send sends a message to the inbox with timeout
// Returns true if message was sent successfully, false if timeout occurred
func (ib *Inbox[T]) Send(msg T) bool {
	return ib.SendContext(context.Background(), msg)
}

// SendContext is Send that also gives up when ctx is done or the inbox has
// been closed
func (ib *Inbox[T]) SendContext(ctx context.Context, msg T) bool {
	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case <-ib.closed:
		atomic.AddInt64(&ib.stats.DroppedCount, 1)
		return false
	default:
	}

	select {
	case ib.ch <- msg:
		atomic.AddInt64(&ib.stats.TotalSent, 1)
		return true
	case <-timer.C:
		atomic.AddInt64(&ib.stats.TimeoutCount, 1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	case <-ctx.Done():
		atomic.AddInt64(&ib.stats.DroppedCount, 1)
		return false
	case <-ib.closed:
		atomic.AddInt64(&ib.stats.DroppedCount, 1)
		return false
	}
}

// TryReceive attempts to receive a message without blocking
// Returns the message and true if available, zero value and false otherwise
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		atomic.AddInt64(&ib.stats.TotalReceived, 1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// Receive blocks until a message is available or ctx is done
func (ib *Inbox[T]) Receive(ctx context.Context) (T, bool) {
	select {
	case msg := <-ib.ch:
		atomic.AddInt64(&ib.stats.TotalReceived, 1)
		return msg, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// C exposes the receive side for use in a select. Callers that read from it
// directly should call MarkReceived so the stats stay accurate.
func (ib *Inbox[T]) C() <-chan T {
	return ib.ch
}

// MarkReceived records a message taken from C
func (ib *Inbox[T]) MarkReceived() {
	atomic.AddInt64(&ib.stats.TotalReceived, 1)
}

// UpdateDepthStats updates the current and maximum depth statistics
func (ib *Inbox[T]) UpdateDepthStats() {
	ib.depthMu.Lock()
	defer ib.depthMu.Unlock()

	depth := len(ib.ch)
	ib.stats.CurrentDepth = depth
	if depth > ib.stats.MaxDepthSeen {
		ib.stats.MaxDepthSeen = depth
	}
}

// GetStats returns a copy of the current inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	ib.depthMu.Lock()
	defer ib.depthMu.Unlock()

	return Stats{
		TotalSent:     atomic.LoadInt64(&ib.stats.TotalSent),
		TotalReceived: atomic.LoadInt64(&ib.stats.TotalReceived),
		TimeoutCount:  atomic.LoadInt64(&ib.stats.TimeoutCount),
		DroppedCount:  atomic.LoadInt64(&ib.stats.DroppedCount),
		CurrentDepth:  ib.stats.CurrentDepth,
		MaxDepthSeen:  ib.stats.MaxDepthSeen,
	}
}

// Len returns the current number of messages in the inbox
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

// Close stops further sends. Buffered messages can still be drained with
// TryReceive; the channel itself is left open so late senders never panic.
func (ib *Inbox[T]) Close() {
	ib.closeOnce.Do(func() {
		close(ib.closed)
	})
}
