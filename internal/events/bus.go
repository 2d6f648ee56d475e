package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalAccepted     EventType = "SIGNAL_ACCEPTED"
	EventSignalRejected     EventType = "SIGNAL_REJECTED"
	EventRegimeUpdate       EventType = "REGIME_UPDATE"
	EventPositionOpened     EventType = "POSITION_OPENED"
	EventPositionClosed     EventType = "POSITION_CLOSED"
	EventPositionSettled    EventType = "POSITION_SETTLED"
	EventCooldownStarted    EventType = "COOLDOWN_STARTED"
	EventWorkerStateChanged EventType = "WORKER_STATE_CHANGED"
	EventOrchestratorState  EventType = "ORCHESTRATOR_STATE"
	EventError              EventType = "ERROR"
)

// Event represents a system event. Events are notifications only; no
// pipeline stage depends on receiving one to make progress.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalAccepted publishes an accepted-signal event
func (eb *EventBus) PublishSignalAccepted(signalID int64, symbol, direction string, price float64) {
	eb.Publish(Event{
		Type: EventSignalAccepted,
		Data: map[string]interface{}{
			"signal_id": signalID,
			"symbol":    symbol,
			"direction": direction,
			"price":     price,
		},
	})
}

// PublishSignalRejected publishes a rejected-signal event
func (eb *EventBus) PublishSignalRejected(symbol, direction, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"reason":    reason,
		},
	})
}

// PublishRegimeUpdate publishes a regime snapshot event
func (eb *EventBus) PublishRegimeUpdate(value int, classification, source string) {
	eb.Publish(Event{
		Type: EventRegimeUpdate,
		Data: map[string]interface{}{
			"value":          value,
			"classification": classification,
			"source":         source,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(positionID, userID int64, symbol, side string, entryPrice, quantity float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"position_id": positionID,
			"user_id":     userID,
			"symbol":      symbol,
			"side":        side,
			"entry_price": entryPrice,
			"quantity":    quantity,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(positionID, userID int64, symbol, reason string, closePrice, pnl float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"position_id": positionID,
			"user_id":     userID,
			"symbol":      symbol,
			"reason":      reason,
			"close_price": closePrice,
			"pnl":         pnl,
		},
	})
}

// PublishPositionSettled publishes a settlement event
func (eb *EventBus) PublishPositionSettled(positionID, userID int64, grossPnL, platformCommission, affiliateCommission float64) {
	eb.Publish(Event{
		Type: EventPositionSettled,
		Data: map[string]interface{}{
			"position_id":          positionID,
			"user_id":              userID,
			"gross_pnl":            grossPnL,
			"platform_commission":  platformCommission,
			"affiliate_commission": affiliateCommission,
		},
	})
}

// PublishCooldownStarted publishes a cooldown event
func (eb *EventBus) PublishCooldownStarted(symbol, reason string, blockedUntil time.Time) {
	eb.Publish(Event{
		Type: EventCooldownStarted,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"reason":        reason,
			"blocked_until": blockedUntil,
		},
	})
}

// PublishWorkerStateChanged publishes a worker lifecycle transition
func (eb *EventBus) PublishWorkerStateChanged(name, state, reason string) {
	data := map[string]interface{}{
		"worker": name,
		"state":  state,
	}
	if reason != "" {
		data["reason"] = reason
	}
	eb.Publish(Event{Type: EventWorkerStateChanged, Data: data})
}

// PublishOrchestratorState publishes an orchestrator state transition
func (eb *EventBus) PublishOrchestratorState(state, runID string) {
	eb.Publish(Event{
		Type: EventOrchestratorState,
		Data: map[string]interface{}{
			"state":  state,
			"run_id": runID,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
