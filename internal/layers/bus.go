package layers

import (
	"sync"

	"github.com/google/uuid"
)

// Action describes what happened to a category.
type Action string

const (
	ActionMounted   Action = "mounted"
	ActionUnmounted Action = "unmounted"
)

// Event reports a category mutation.
type Event struct {
	Category Category  `json:"category"`
	Action   Action    `json:"action"`
	GroupID  uuid.UUID `json:"group_id"`
	Size     int       `json:"size"`
}

// EventBus is a fan-out pub/sub for layer events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers without blocking.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
