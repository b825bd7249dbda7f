package events

import (
	"sync"
	"time"

	"market-signal-engine/internal/ai/signal"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalUpdate     EventType = "SIGNAL_UPDATE"
	EventScanStarted      EventType = "SCAN_STARTED"
	EventScanCompleted    EventType = "SCAN_COMPLETED"
	EventScanUnavailable  EventType = "SCAN_UNAVAILABLE"
	EventProviderCooldown EventType = "PROVIDER_COOLDOWN"
	EventProviderToggled  EventType = "PROVIDER_TOGGLED"
	EventSettingsUpdated  EventType = "SETTINGS_UPDATED"
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

// Publish sends an event to all subscribers. Subscribers run on their own
// goroutines so a slow consumer never stalls a scan.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalUpdate publishes a persisted signal
func (eb *EventBus) PublishSignalUpdate(s *signal.MarketSignal) {
	eb.Publish(Event{
		Type:      EventSignalUpdate,
		Timestamp: s.CreatedAt,
		Data: map[string]interface{}{
			"signal": s,
		},
	})
}

// PublishScanStarted publishes the start of a market scan
func (eb *EventBus) PublishScanStarted(scanID string, exchanges []string) {
	eb.Publish(Event{
		Type: EventScanStarted,
		Data: map[string]interface{}{
			"scan_id":   scanID,
			"exchanges": exchanges,
		},
	})
}

// PublishScanCompleted publishes a finished scan summary
func (eb *EventBus) PublishScanCompleted(scanID string, summary interface{}) {
	eb.Publish(Event{
		Type: EventScanCompleted,
		Data: map[string]interface{}{
			"scan_id": scanID,
			"summary": summary,
		},
	})
}

// PublishScanUnavailable publishes a scan aborted for lack of capacity
func (eb *EventBus) PublishScanUnavailable(nextAvailableAt time.Time) {
	eb.Publish(Event{
		Type: EventScanUnavailable,
		Data: map[string]interface{}{
			"next_available_at": nextAvailableAt,
		},
	})
}

// PublishProviderCooldown publishes a provider entering cooldown
func (eb *EventBus) PublishProviderCooldown(provider string, until time.Time) {
	eb.Publish(Event{
		Type: EventProviderCooldown,
		Data: map[string]interface{}{
			"provider":       provider,
			"cooldown_until": until,
		},
	})
}

// PublishProviderToggled publishes an operator enable/disable
func (eb *EventBus) PublishProviderToggled(provider string, enabled bool) {
	eb.Publish(Event{
		Type: EventProviderToggled,
		Data: map[string]interface{}{
			"provider": provider,
			"enabled":  enabled,
		},
	})
}

// PublishSettingsUpdated publishes new settings
func (eb *EventBus) PublishSettingsUpdated(settings interface{}) {
	eb.Publish(Event{
		Type: EventSettingsUpdated,
		Data: map[string]interface{}{
			"settings": settings,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}

// ProviderObserver publishes provider cooldowns reported by the registry
type ProviderObserver struct {
	bus *EventBus
	now func() time.Time
}

// NewProviderObserver creates an observer publishing on bus
func NewProviderObserver(bus *EventBus) *ProviderObserver {
	return &ProviderObserver{bus: bus, now: time.Now}
}

// ObserveProviderCall is a no-op; calls are counted by metrics
func (o *ProviderObserver) ObserveProviderCall(string, string, time.Duration) {}

// ObserveCooldown publishes PROVIDER_COOLDOWN
func (o *ProviderObserver) ObserveCooldown(provider string, d time.Duration) {
	o.bus.PublishProviderCooldown(provider, o.now().UTC().Add(d))
}
