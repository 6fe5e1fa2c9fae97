package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSetupCreated     EventType = "SETUP_CREATED"
	EventSetupEntered     EventType = "SETUP_ENTERED"
	EventSetupClosed      EventType = "SETUP_CLOSED"
	EventSetupExpired     EventType = "SETUP_EXPIRED"
	EventSetupInvalidated EventType = "SETUP_INVALIDATED"
	EventAlertFired       EventType = "ALERT_FIRED"
	EventSignalEmitted    EventType = "SIGNAL_EMITTED"
	EventPriceUpdate      EventType = "PRICE_UPDATE"
	EventError            EventType = "ERROR"
)

// Event represents a system event
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

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSetupCreated publishes a setup created event
func (eb *EventBus) PublishSetupCreated(setupID, symbol, side, strategy string, entryPrice, confidence float64) {
	eb.Publish(Event{
		Type: EventSetupCreated,
		Data: map[string]interface{}{
			"setup_id":    setupID,
			"symbol":      symbol,
			"side":        side,
			"strategy":    strategy,
			"entry_price": entryPrice,
			"confidence":  confidence,
		},
	})
}

// PublishSetupEntered publishes a setup entered event
func (eb *EventBus) PublishSetupEntered(setupID, symbol string, entryPrice, price float64, at time.Time) {
	eb.Publish(Event{
		Type:      EventSetupEntered,
		Timestamp: at,
		Data: map[string]interface{}{
			"setup_id":    setupID,
			"symbol":      symbol,
			"entry_price": entryPrice,
			"price":       price,
		},
	})
}

// PublishSetupClosed publishes a setup closed event
func (eb *EventBus) PublishSetupClosed(setupID, symbol, status, outcome string, price float64, pnlPercent *float64, at time.Time) {
	data := map[string]interface{}{
		"setup_id": setupID,
		"symbol":   symbol,
		"status":   status,
		"outcome":  outcome,
		"price":    price,
	}
	if pnlPercent != nil {
		data["pnl_percent"] = *pnlPercent
	}
	eb.Publish(Event{
		Type:      EventSetupClosed,
		Timestamp: at,
		Data:      data,
	})
}

// PublishAlertFired publishes an alert fired event
func (eb *EventBus) PublishAlertFired(symbol, levelType, direction string, targetPrice, price float64) {
	eb.Publish(Event{
		Type: EventAlertFired,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"level_type":   levelType,
			"direction":    direction,
			"target_price": targetPrice,
			"price":        price,
		},
	})
}

// PublishSignalEmitted publishes a signal emitted event
func (eb *EventBus) PublishSignalEmitted(signalID, setupID, symbol, signalType string, price, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalEmitted,
		Data: map[string]interface{}{
			"signal_id":   signalID,
			"setup_id":    setupID,
			"symbol":      symbol,
			"signal_type": signalType,
			"price":       price,
			"confidence":  confidence,
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
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
