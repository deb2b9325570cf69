// Package events is the structured event feed for a validation run:
// repository state transitions and statistics deltas, published to
// any number of subscribers for observability tooling to consume.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of thing that happened during a run.
type Type string

const (
	RepoStateChanged Type = "repo.state_changed"
	RepoFetchFailed  Type = "repo.fetch_failed"
	EntityDropped    Type = "entity.dropped"
	ManifestStale    Type = "manifest.stale"
	VRPInserted      Type = "vrp.inserted"
	RunCompleted     Type = "run.completed"
)

// Event is one published occurrence. Metadata carries type-specific
// detail (repo_id, from/to state names, counts) without needing a
// distinct Go type per Type.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes published events to every current subscriber.
// A slow or absent subscriber never blocks a publisher: events are
// dropped from a subscriber's channel, not queued without bound.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker returns a Broker; call Start to begin distributing.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop in its own goroutine.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts distribution. Publish after Stop is a no-op.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe returns a new channel that receives every event published
// from this point on.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish assigns event an id/timestamp if unset and queues it for
// distribution to current subscribers.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full: this event is dropped for it
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
