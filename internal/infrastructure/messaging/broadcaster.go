// Package messaging provides the staleness-subscription broadcaster that
// pushes query lifecycle transitions to connected dashboard clients.
package messaging

import (
	"sync"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
)

// Event is one staleness notification: a composite cache key moved to a new
// lifecycle state.
type Event struct {
	Key   string    `json:"key"`
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

// StalenessBroadcaster fans lifecycle events out to subscribers. Sends are
// non-blocking; a subscriber that cannot keep up drops events rather than
// stalling the orchestrator.
type StalenessBroadcaster struct {
	subscribers map[chan Event]struct{}
	sendBuffer  int
	mu          sync.Mutex
	logger      *logging.ChanneledLogger
}

// NewStalenessBroadcaster creates a broadcaster whose subscriber channels
// buffer sendBuffer events.
func NewStalenessBroadcaster(sendBuffer int, logger *logging.ChanneledLogger) *StalenessBroadcaster {
	return &StalenessBroadcaster{
		subscribers: make(map[chan Event]struct{}),
		sendBuffer:  sendBuffer,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *StalenessBroadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.sendBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Events().Debug("Staleness subscriber registered", "subscribers", count)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *StalenessBroadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, exists := b.subscribers[ch]; exists {
		delete(b.subscribers, ch)
		close(ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.logger.Events().Debug("Staleness subscriber removed", "subscribers", count)
}

// Broadcast delivers an event to every subscriber without blocking.
func (b *StalenessBroadcaster) Broadcast(key, state string) {
	event := Event{Key: key, State: state, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than block orchestration.
		}
	}

	if len(b.subscribers) > 0 {
		b.logger.Events().Debug("Staleness event broadcast",
			"key", key,
			"state", state,
			"subscribers", len(b.subscribers))
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *StalenessBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
