package client

import (
	"time"

	"github.com/zeusync/wsclient/internal/core/events/bus"
	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
)

// Lifecycle event types. Inbound messages are additionally published under
// their own message type, so a listener for "chat" receives every inbound
// {"type":"chat"} message. Inbound types that collide with a lifecycle event
// are only published under EventMessage.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect_failed"
	EventError           = "error"
	EventStateChange     = "state_change"
	EventMessage         = "message"
)

func isLifecycleEvent(eventType string) bool {
	switch eventType {
	case EventConnected, EventDisconnected, EventReconnecting, EventReconnectFailed,
		EventError, EventStateChange, EventMessage:
		return true
	}
	return false
}

// Event is delivered to listeners registered with On and Once.
type Event struct {
	Type      string
	Timestamp time.Time

	// Message is set for inbound messages.
	Message *protocol.Message
	// Raw holds the undecodable frame for parse errors.
	Raw []byte
	// Err is set for error, disconnected and reconnect_failed events.
	Err error

	// State transition, for state_change.
	From State
	To   State

	// Reconnection attempt, for reconnecting and reconnect_failed.
	Attempt int
	Delay   time.Duration

	// Close details, for disconnected.
	Code   int
	Reason string
}

// EventHandler receives client events. It runs synchronously on the goroutine
// that produced the event and must not block for long.
type EventHandler func(event Event)

// On registers handler for eventType and returns a function that removes it.
func (c *Client) On(eventType string, handler EventHandler) (unsubscribe func()) {
	sub := c.bus.Subscribe(eventType, adapt(handler))
	c.logger.Debug("Event handler registered", log.String("type", eventType))
	return sub.Cancel
}

// Once registers handler for the next eventType event only.
func (c *Client) Once(eventType string, handler EventHandler) (unsubscribe func()) {
	sub := c.bus.SubscribeOnce(eventType, adapt(handler))
	return sub.Cancel
}

func adapt(handler EventHandler) bus.EventHandler {
	return func(e bus.Event) error {
		if ev, ok := e.Data().(Event); ok {
			handler(ev)
		}
		return nil
	}
}

// emit publishes event synchronously. It must be called without c.mu held.
func (c *Client) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := c.bus.Publish(bus.NewEvent(event.Type, c.id, event)); err != nil {
		c.logger.Error("Event handler error",
			log.String("event", event.Type),
			log.Error(err))
	}
}

func (c *Client) emitError(err error, raw []byte) {
	c.emit(Event{Type: EventError, Err: err, Raw: raw})
}

func (c *Client) emitStateChange(from, to State) {
	if from == to {
		return
	}
	c.emit(Event{Type: EventStateChange, From: from, To: to})
}
