// Package events fans sync progress out to observers such as the CLI
// printer. Delivery is best effort; the sync model never depends on it.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fruitsalade/depotsync/internal/metrics"
)

const (
	EventStatus    = "status"
	EventFacet     = "facet"
	EventItem      = "item"
	EventStarted   = "transfer_started"
	EventCompleted = "transfer_completed"
	EventProgress  = "progress"
)

// Event is a flattened, serializable view of one sync event.
type Event struct {
	Type      string  `json:"type"`
	RunID     string  `json:"run_id,omitempty"`
	Entity    string  `json:"entity,omitempty"`
	Path      string  `json:"path,omitempty"`
	Status    string  `json:"status,omitempty"`
	Count     int     `json:"count,omitempty"`
	Facet     string  `json:"facet,omitempty"`
	Value     string  `json:"value,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	Rate      string  `json:"rate,omitempty"`
	ETA       string  `json:"eta,omitempty"`
	Message   string  `json:"message,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// Broadcaster manages observers and publishes events to them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new observer and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetObserversActive(b.Count())
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.mu.Unlock()
	metrics.SetObserversActive(b.Count())
}

// Publish sends an event to all observers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			metrics.RecordEventDropped()
		}
	}
	metrics.RecordEventPublished(event.Type)
}

// Count returns the current number of observers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
