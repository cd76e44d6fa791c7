package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub dispatcher keyed by event type.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type() string; every matching handler runs.
// - Ordered, synchronous delivery: Publish calls handlers in registration order on the caller goroutine.
// - Error aggregation: handler errors (and recovered panics) are joined and returned from Publish.
// - One-shot subscriptions: SubscribeOnce handlers are removed before their first invocation runs.
//
// Handlers may subscribe or unsubscribe from inside a callback; the change takes
// effect from the next Publish.
type EventBus interface {
	// Publish delivers the event synchronously to all active subscribers of event.Type().
	Publish(event Event) error
	// Subscribe registers a handler and returns a Subscription handle that can be used to cancel later.
	Subscribe(eventType string, handler EventHandler) Subscription
	// SubscribeOnce registers a handler that is cancelled after its first delivery.
	SubscribeOnce(eventType string, handler EventHandler) Subscription
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription)
	// Subscribers reports the number of active subscriptions for eventType.
	Subscribers(eventType string) int
	// GetMetrics returns a snapshot of accumulated counters.
	GetMetrics() EventBusMetrics
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

// EventHandler is a user callback invoked per delivered event.
type EventHandler func(event Event) error

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler from the bus. Multiple calls are safe.
	Cancel()
}

// EventBusMetrics is a minimal set of counters maintained by the bus.
type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	Panics            uint64
	SubscribersActive uint64
}
