// Package debounce coalesces rapid calls per named key.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Debouncer delays calls per key and keeps only the latest one. Keys are
// independent: a burst under "nextJob" never delays another key.
type Debouncer struct {
	clock  clock.Clock
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*entry
	wg      sync.WaitGroup
}

type entry struct {
	fn     func()
	timer  clock.Timer
	cancel chan struct{}
}

// New creates a debouncer that runs a call delay after the last call for
// its key
func New(delay time.Duration, clk clock.Clock, logger *slog.Logger) *Debouncer {
	return &Debouncer{
		clock:   clk,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]*entry),
	}
}

// Call schedules fn under key, replacing any call still pending for it
func (d *Debouncer) Call(key string, fn func()) {
	d.mu.Lock()
	if old, ok := d.pending[key]; ok {
		old.timer.Stop()
		close(old.cancel)
		d.logger.Debug("debounced call replaced", "key", key)
	}

	e := &entry{
		fn:     fn,
		timer:  d.clock.NewTimer(d.delay),
		cancel: make(chan struct{}),
	}
	d.pending[key] = e
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		select {
		case <-e.timer.C():
			d.fire(key, e)
		case <-e.cancel:
		}
	}()
}

func (d *Debouncer) fire(key string, e *entry) {
	d.mu.Lock()
	if d.pending[key] != e {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	e.fn()
}

// Flush runs the pending call for key now. It reports whether one existed.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	e, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
		e.timer.Stop()
		close(e.cancel)
	}
	d.mu.Unlock()

	if ok {
		e.fn()
	}
	return ok
}

// Cancel drops the pending call for key
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
		e.timer.Stop()
		close(e.cancel)
	}
	return ok
}

// Pending reports whether a call is waiting under key
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending call and waits for the timers to exit
func (d *Debouncer) Stop() {
	d.mu.Lock()
	for key, e := range d.pending {
		e.timer.Stop()
		close(e.cancel)
		delete(d.pending, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Func wraps fn so calls are debounced under key; only the argument of the
// last call in a burst is delivered
func Func[T any](d *Debouncer, key string, fn func(T)) func(T) {
	return func(v T) {
		d.Call(key, func() { fn(v) })
	}
}
