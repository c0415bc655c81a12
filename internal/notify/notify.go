// Package notify collects user-facing notifications for the rendering layer.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
)

// Severity of a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Notification is one message for the user. Sticky notifications stay
// until dismissed; the others may be hidden by the renderer after a while.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Sticky    bool      `json:"sticky"`
	LinkText  string    `json:"link_text,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Option adjusts a notification before it is sent
type Option func(*Notification)

// Sticky keeps the notification until it is cleared
func Sticky() Option {
	return func(n *Notification) { n.Sticky = true }
}

// WithLink attaches a corrective action
func WithLink(text, url string) Option {
	return func(n *Notification) {
		n.LinkText = text
		n.URL = url
	}
}

// Sender is the interface components use to report to the user
type Sender interface {
	Send(message string, severity Severity, opts ...Option) Notification
}

// Center stores a bounded history of notifications and fans them out to
// subscribers
type Center struct {
	mu          sync.Mutex
	history     []Notification
	maxHistory  int
	subscribers map[int]chan Notification
	nextSubID   int
	clock       clock.Clock
	logger      *slog.Logger
}

// NewCenter creates a center keeping at most maxHistory notifications
func NewCenter(maxHistory int, clk clock.Clock, logger *slog.Logger) *Center {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Center{
		maxHistory:  maxHistory,
		subscribers: make(map[int]chan Notification),
		clock:       clk,
		logger:      logger,
	}
}

// Send records and broadcasts a notification
func (c *Center) Send(message string, severity Severity, opts ...Option) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		Message:   message,
		Severity:  severity,
		CreatedAt: c.clock.Now(),
	}
	for _, opt := range opts {
		opt(&n)
	}

	c.mu.Lock()
	c.history = append(c.history, n)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	subs := make([]chan Notification, 0, len(c.subscribers))
	for _, ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	c.logger.Info("notification",
		"id", n.ID,
		"severity", string(n.Severity),
		"sticky", n.Sticky,
		"message", n.Message)

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			c.logger.Warn("dropping notification for slow subscriber", "id", n.ID)
		}
	}
	return n
}

// List returns the stored notifications, oldest first
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.history))
	copy(out, c.history)
	return out
}

// Clear removes one notification and reports whether it existed
func (c *Center) Clear(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.history {
		if n.ID == id {
			c.history = append(c.history[:i], c.history[i+1:]...)
			return true
		}
	}
	return false
}

// ClearAll removes every notification
func (c *Center) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Subscribe returns a channel receiving new notifications and a function
// that ends the subscription
func (c *Center) Subscribe(buffer int) (<-chan Notification, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan Notification, buffer)
	c.subscribers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}
