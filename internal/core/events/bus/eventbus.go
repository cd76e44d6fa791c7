package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// simpleEvent is a basic implementation of Event.
type simpleEvent struct {
	typeStr string
	source  string
	ts      time.Time
	data    any
}

func (e simpleEvent) Type() string         { return e.typeStr }
func (e simpleEvent) Source() string       { return e.source }
func (e simpleEvent) Timestamp() time.Time { return e.ts }
func (e simpleEvent) Data() any            { return e.data }

// NewEvent creates a simple Event implementation.
func NewEvent(typ, src string, data any) Event {
	return simpleEvent{typeStr: typ, source: src, ts: time.Now(), data: data}
}

// subscription implements Subscription.
type subscription struct {
	id        string
	eventType string
	handler   EventHandler
	once      bool
	active    atomic.Bool
	bus       *inMemoryBus
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) IsActive() bool    { return s.active.Load() }
func (s *subscription) Cancel() {
	if s.active.CompareAndSwap(true, false) {
		s.bus.remove(s)
	}
}

// inMemoryBus keeps an ordered slice of subscriptions per event type.
type inMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription

	published  atomic.Uint64
	delivered  atomic.Uint64
	errorCount atomic.Uint64
	panics     atomic.Uint64
}

// New creates a new EventBus instance.
func New() EventBus {
	return &inMemoryBus{
		handlers: make(map[string][]*subscription),
	}
}

func (b *inMemoryBus) Subscribe(eventType string, handler EventHandler) Subscription {
	return b.add(eventType, handler, false)
}

func (b *inMemoryBus) SubscribeOnce(eventType string, handler EventHandler) Subscription {
	return b.add(eventType, handler, true)
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) {
	if sub == nil {
		return
	}
	sub.Cancel()
}

func (b *inMemoryBus) Subscribers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *inMemoryBus) Publish(event Event) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.handlers[event.Type()]...)
	b.mu.RUnlock()

	b.published.Add(1)

	var all error
	for _, s := range subs {
		if s.once {
			// claim the one-shot delivery so concurrent publishers cannot both run it
			if !s.active.CompareAndSwap(true, false) {
				continue
			}
			b.remove(s)
		} else if !s.active.Load() {
			continue
		}

		b.delivered.Add(1)
		if err := b.invoke(s, event); err != nil {
			b.errorCount.Add(1)
			all = errors.Join(all, err)
		}
	}
	return all
}

func (b *inMemoryBus) GetMetrics() EventBusMetrics {
	b.mu.RLock()
	var active uint64
	for _, subs := range b.handlers {
		active += uint64(len(subs))
	}
	b.mu.RUnlock()

	return EventBusMetrics{
		Published:         b.published.Load(),
		DeliveredHandlers: b.delivered.Load(),
		Errors:            b.errorCount.Load(),
		Panics:            b.panics.Load(),
		SubscribersActive: active,
	}
}

func (b *inMemoryBus) invoke(s *subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			err = fmt.Errorf("handler %s for %q panicked: %v", s.id, s.eventType, r)
		}
	}()
	return s.handler(event)
}

func (b *inMemoryBus) add(eventType string, handler EventHandler, once bool) Subscription {
	s := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		once:      once,
		bus:       b,
	}
	s.active.Store(true)

	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], s)
	b.mu.Unlock()
	return s
}

func (b *inMemoryBus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[s.eventType]
	for i, cur := range subs {
		if cur == s {
			// copy so that snapshots taken by in-flight publishers stay intact
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.handlers, s.eventType)
			} else {
				b.handlers[s.eventType] = next
			}
			return
		}
	}
}
