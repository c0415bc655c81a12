package session

import (
	"sync"

	"github.com/livinlefevreloca/treeherd/internal/notify"
)

// EventType identifies what an Event carries
type EventType string

const (
	EventNotification EventType = "notification" // a new notification
	EventState        EventType = "state"        // state changed; refetch /api/state
)

// Event is pushed to subscribers of the session
type Event struct {
	Type         EventType            `json:"type"`
	Reason       string               `json:"reason,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

// broadcaster fans events out to subscribers. A subscriber that falls
// behind misses events instead of blocking the session loop.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subscribers: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// publish returns the number of subscribers that missed the event
func (b *broadcaster) publish(e Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	missed := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			missed++
		}
	}
	return missed
}
