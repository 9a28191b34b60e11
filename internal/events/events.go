package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	EventItemEnqueued       = "sync_item_enqueued"
	EventItemDelivered      = "sync_item_delivered"
	EventItemRetryScheduled = "sync_item_retry_scheduled"
	EventItemDropped        = "sync_item_dropped"
	EventItemDiscarded      = "sync_item_discarded"
	EventConnectivity       = "connectivity_changed"
)

// ItemEventPayload describes the sync item snapshot for event consumers.
type ItemEventPayload struct {
	ItemID     string     `json:"item_id"`
	Operation  string     `json:"operation"`
	TargetType string     `json:"target_type"`
	EntityID   string     `json:"entity_id,omitempty"`
	RetryCount int        `json:"retry_count"`
	Error      string     `json:"error,omitempty"`
	NextRetry  *time.Time `json:"next_retry,omitempty"`
}

// ConnectivityPayload is published when the remote goes online or offline.
type ConnectivityPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Event is a published fact about the queue. IDs increase per bus.
type Event struct {
	ID        uint64
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// EventHandler reacts to an event. A returned error is reported to the
// bus error hook and never stops other handlers.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         atomic.Uint64
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a hook for handler failures, typically a logger.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs subscribers of the event type synchronously, in subscription order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	event.ID = b.seq.Add(1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	ev, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&ev)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
