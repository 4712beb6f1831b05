// Package events provides the in-process event bus. The engine publishes
// trade and status events; the API layer subscribes to push them over
// WebSocket.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventOrderPlaced     EventType = "ORDER_PLACED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventTradeClosed     EventType = "TRADE_CLOSED"
	EventCrashExit       EventType = "CRASH_EXIT"
	EventRebuyArmed      EventType = "REBUY_ARMED"
	EventRebuyFired      EventType = "REBUY_FIRED"
	EventTradingHalted   EventType = "TRADING_HALTED"
	EventTradingResumed  EventType = "TRADING_RESUMED"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Each subscriber runs in its own
// goroutine so a slow consumer cannot stall the trading loop.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal generated event
func (b *Bus) PublishSignal(symbol, action, eventKind string, price, confidence float64) {
	b.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"action":     action,
			"event_kind": eventKind,
			"price":      price,
			"confidence": confidence,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (b *Bus) PublishTradeOpened(symbol string, price, quantity float64, eventKind string) {
	b.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"price":      price,
			"quantity":   quantity,
			"event_kind": eventKind,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (b *Bus) PublishTradeClosed(symbol string, entryPrice, exitPrice, quantity, pnl float64, eventKind string) {
	b.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"quantity":    quantity,
			"pnl":         pnl,
			"event_kind":  eventKind,
		},
	})
}

// PublishCrashExit publishes a crash exit event with the armed rebuy level
func (b *Bus) PublishCrashExit(symbol string, price, drawdown, rebuyPrice float64) {
	b.Publish(Event{
		Type: EventCrashExit,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"price":       price,
			"drawdown":    drawdown,
			"rebuy_price": rebuyPrice,
		},
	})
}

// PublishHalt publishes a trading halted event
func (b *Bus) PublishHalt(reason string) {
	b.Publish(Event{
		Type: EventTradingHalted,
		Data: map[string]interface{}{"reason": reason},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
