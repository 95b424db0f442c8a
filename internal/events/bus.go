// Package events is a small in-process pub/sub bus. Components publish
// lifecycle events; the status API reads the recent-activity ring buffer
// instead of querying the journal on every request.
package events

import (
	"sync"
	"time"
)

// EventType identifies one kind of system event.
type EventType string

const (
	EventScreenCompleted  EventType = "SCREEN_COMPLETED"
	EventDecisionProposed EventType = "DECISION_PROPOSED"
	EventDecisionResolved EventType = "DECISION_RESOLVED"
	EventPositionOpened   EventType = "POSITION_OPENED"
	EventPositionClosed   EventType = "POSITION_CLOSED"
	EventLearningCycle    EventType = "LEARNING_CYCLE"
	EventControl          EventType = "CONTROL"
	EventRollover         EventType = "ROLLOVER"
	EventError            EventType = "ERROR"
)

// Event is one system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Subscriber handles published events.
type Subscriber func(Event)

// ringSize bounds the recent-activity buffer served by the status API.
const ringSize = 256

// EventBus fans events out to subscribers and keeps a bounded ring of the
// most recent ones.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	ring        []Event
	next        int
	filled      bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		ring:        make([]Event, ringSize),
	}
}

// Subscribe registers a subscriber for one event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish records the event in the ring and notifies subscribers. Handlers
// run on their own goroutines so a slow subscriber cannot stall a tick.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.ring[eb.next] = event
	eb.next = (eb.next + 1) % ringSize
	if eb.next == 0 {
		eb.filled = true
	}
	subs := append([]Subscriber(nil), eb.subscribers[event.Type]...)
	subs = append(subs, eb.allSubs...)
	eb.mu.Unlock()

	for _, sub := range subs {
		go sub(event)
	}
}

// Recent returns up to n events, newest first.
func (eb *EventBus) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	size := eb.next
	if eb.filled {
		size = ringSize
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (eb.next - i + ringSize) % ringSize
		out = append(out, eb.ring[idx])
	}
	return out
}

// PublishScreen publishes a completed screening pass.
func (eb *EventBus) PublishScreen(symbolCount int, degraded bool) {
	eb.Publish(Event{
		Type: EventScreenCompleted,
		Data: map[string]interface{}{"symbol_count": symbolCount, "degraded": degraded},
	})
}

// PublishDecision publishes a recommender outcome.
func (eb *EventBus) PublishDecision(symbol, action, status string, confidence float64) {
	eb.Publish(Event{
		Type:   EventDecisionProposed,
		Symbol: symbol,
		Data:   map[string]interface{}{"action": action, "status": status, "confidence": confidence},
	})
}

// PublishPositionClosed publishes a realized exit.
func (eb *EventBus) PublishPositionClosed(symbol, reason string, realizedPercent float64) {
	eb.Publish(Event{
		Type:   EventPositionClosed,
		Symbol: symbol,
		Data:   map[string]interface{}{"reason": reason, "realized_percent": realizedPercent},
	})
}

// PublishError publishes a component failure.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{"source": source}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Message: message, Data: data})
}
