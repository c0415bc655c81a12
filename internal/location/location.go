// Package location holds the dashboard query string of one session. It is
// the only place filter and selection state is stored; every other
// component reads it from here and writes back through Update.
package location

import (
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
)

// Snapshot is a consistent copy of the query at one version
type Snapshot struct {
	Values  url.Values
	Version uint64
}

// Get returns the first value of key
func (s Snapshot) Get(key string) string {
	return s.Values.Get(key)
}

// Has reports whether key is present with a non-empty value
func (s Snapshot) Has(key string) bool {
	return s.Values.Get(key) != ""
}

// Location is a concurrency-safe query string with change notification
type Location struct {
	mu          sync.RWMutex
	values      url.Values
	version     uint64
	subscribers map[int]chan struct{}
	nextSubID   int
	logger      *slog.Logger

	// reload keys and their values as of the last commit
	reloadKeys []string
	committed  url.Values
}

// New parses the initial query string
func New(query string, logger *slog.Logger) (*Location, error) {
	values, err := parse(query)
	if err != nil {
		return nil, err
	}

	return &Location{
		values:      values,
		subscribers: make(map[int]chan struct{}),
		logger:      logger,
	}, nil
}

func parse(query string) (url.Values, error) {
	return url.ParseQuery(strings.TrimPrefix(strings.TrimSpace(query), "?"))
}

// Snapshot returns a copy of the current query
func (l *Location) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Values: clone(l.values), Version: l.version}
}

// Query returns the encoded query string
func (l *Location) Query() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.values.Encode()
}

// Get returns the first value of key
func (l *Location) Get(key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.values.Get(key)
}

// Version returns a counter incremented by every effective change
func (l *Location) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Navigate replaces the whole query, as a browser navigation would
func (l *Location) Navigate(query string) error {
	values, err := parse(query)
	if err != nil {
		return err
	}
	l.Update(func(url.Values) url.Values { return values })
	return nil
}

// Update applies fn to a copy of the query and stores the result. fn runs
// under the write lock so read-modify-write sequences never interleave.
// Subscribers are signalled only when the encoded query changed.
func (l *Location) Update(fn func(values url.Values) url.Values) bool {
	l.mu.Lock()
	before := l.values.Encode()
	next := fn(clone(l.values))
	if next == nil {
		next = make(url.Values)
	}
	after := next.Encode()
	if before == after {
		l.mu.Unlock()
		return false
	}

	l.values = next
	l.version++
	version := l.version
	subs := make([]chan struct{}, 0, len(l.subscribers))
	for _, ch := range l.subscribers {
		subs = append(subs, ch)
	}
	l.mu.Unlock()

	l.logger.Debug("location changed", "version", version, "query", after)

	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
			// a signal is already pending, the reader will see this version
		}
	}
	return true
}

// UpdateSilently is Update for writes the session makes itself, such as
// defaulting repo or moving fromchange after loading more pushes. Reload
// keys changed by fn are committed immediately so they never trigger a
// reload; pending changes to other reload keys stay uncommitted.
func (l *Location) UpdateSilently(fn func(values url.Values) url.Values) bool {
	return l.Update(func(values url.Values) url.Values {
		prev := pick(values, l.reloadKeys)
		next := fn(values)
		if next == nil {
			next = make(url.Values)
		}

		written := pick(next, l.reloadKeys)
		committed := clone(l.committed)
		for _, key := range l.reloadKeys {
			if slices.Equal(prev[key], written[key]) {
				continue
			}
			if vals, ok := written[key]; ok {
				committed[key] = vals
			} else {
				delete(committed, key)
			}
		}
		l.committed = committed
		return next
	})
}

// TrackReload sets the range-defining keys and commits their current values
func (l *Location) TrackReload(keys ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reloadKeys = append([]string(nil), keys...)
	l.committed = pick(l.values, l.reloadKeys)
}

// CommitReload compares the reload keys with their committed values and
// commits the current ones. It reports whether anything changed along with
// the previous and new values.
func (l *Location) CommitReload() (changed bool, before, after url.Values) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before = l.committed
	after = pick(l.values, l.reloadKeys)
	l.committed = after
	return before.Encode() != after.Encode(), clone(before), clone(after)
}

// SetParam sets key to value, or deletes key when value is empty
func (l *Location) SetParam(key, value string) bool {
	return l.Update(func(values url.Values) url.Values {
		if value == "" {
			values.Del(key)
		} else {
			values.Set(key, value)
		}
		return values
	})
}

// Subscribe returns a channel signalled after each change and a function
// that removes the subscription. Signals coalesce; readers should take a
// Snapshot after each one.
func (l *Location) Subscribe() (<-chan struct{}, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextSubID
	l.nextSubID++
	ch := make(chan struct{}, 1)
	l.subscribers[id] = ch

	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subscribers, id)
	}
}

func pick(values url.Values, keys []string) url.Values {
	out := make(url.Values, len(keys))
	for _, key := range keys {
		if v := values.Get(key); v != "" {
			out[key] = append([]string(nil), values[key]...)
		}
	}
	return out
}

func clone(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for key, vals := range values {
		out[key] = append([]string(nil), vals...)
	}
	return out
}
