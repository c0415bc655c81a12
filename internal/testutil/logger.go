package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Record is one captured log line with its attributes flattened by key.
// Grouped attributes are keyed "group.key".
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Attr returns the attribute key formatted with %v, or "" when absent
func (r Record) Attr(key string) string {
	v, ok := r.Attrs[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}

// TestLogger captures what components log so tests can assert on the
// notifications, selections and merges they report
type TestLogger struct {
	mu      sync.Mutex
	records []Record
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a *slog.Logger that records into l at every level
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{logger: l})
}

func (l *TestLogger) add(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// GetEntriesByLevel returns the records logged at level
func (l *TestLogger) GetEntriesByLevel(level slog.Level) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for _, r := range l.records {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// HasError reports whether anything was logged at error level
func (l *TestLogger) HasError() bool {
	return len(l.GetEntriesByLevel(slog.LevelError)) > 0
}

// HasWarning reports whether anything was logged at warn level
func (l *TestLogger) HasWarning() bool {
	return len(l.GetEntriesByLevel(slog.LevelWarn)) > 0
}

// Find returns the records with message msg carrying every key/value pair
// of attrs. Values compare by their %v form, so job_id 20 matches the int64
// slog stores.
func (l *TestLogger) Find(msg string, attrs ...any) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for _, r := range l.records {
		if r.Message == msg && hasAttrs(r, attrs) {
			out = append(out, r)
		}
	}
	return out
}

func hasAttrs(r Record, attrs []any) bool {
	for i := 0; i+1 < len(attrs); i += 2 {
		key := fmt.Sprint(attrs[i])
		if _, ok := r.Attrs[key]; !ok || r.Attr(key) != fmt.Sprint(attrs[i+1]) {
			return false
		}
	}
	return true
}

type captureHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	prefix string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	rec := Record{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	for _, a := range h.attrs {
		flatten(rec.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(rec.Attrs, h.prefix, a)
		return true
	})
	h.logger.add(rec)
	return nil
}

func flatten(into map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, member := range v.Group() {
			flatten(into, prefix+a.Key+".", member)
		}
		return
	}
	into[prefix+a.Key] = v.Any()
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &next
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// TestingT is the part of testing.T WaitFor reports through
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// WaitFor polls condition every 10ms until it holds or timeout passes
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !condition() {
		select {
		case <-deadline:
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		case <-ticker.C:
		}
	}
	return true
}
