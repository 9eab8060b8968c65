// Package events provides event management functionality.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents different event types
type EventType string

const (
	ErrorOccurred EventType = "ERROR_OCCURRED"

	// Ledger events
	PoolCreated         EventType = "POOL_CREATED"
	CapitalUpdated      EventType = "CAPITAL_UPDATED"
	AllocationCreated   EventType = "ALLOCATION_CREATED"
	PriceMarked         EventType = "PRICE_MARKED"
	SharesSold          EventType = "SHARES_SOLD"
	DistributionRemoved EventType = "DISTRIBUTION_REMOVED"
	PositionClosed      EventType = "POSITION_CLOSED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Subscriber receives emitted events. Called synchronously on the emitting
// goroutine; subscribers must not block.
type Subscriber func(Event)

// Manager handles event emission, logging, and in-process dispatch
type Manager struct {
	log         zerolog.Logger
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log: log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a subscriber for all events
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Emit emits an event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	eventJSON, _ := json.Marshal(event)
	m.log.Info().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	m.mu.RLock()
	subs := make([]Subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(event)
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	}
	m.Emit(ErrorOccurred, module, data)
}
