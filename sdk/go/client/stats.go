package client

import (
	"sync/atomic"
	"time"
)

type counters struct {
	sent              atomic.Uint64
	received          atomic.Uint64
	queued            atomic.Uint64
	dropped           atomic.Uint64
	flushed           atomic.Uint64
	heartbeats        atomic.Uint64
	heartbeatAcks     atomic.Uint64
	parseErrors       atomic.Uint64
	sendErrors        atomic.Uint64
	transportErrors   atomic.Uint64
	connects          atomic.Uint64
	reconnects        atomic.Uint64
	reconnectAttempts atomic.Uint64
}

// Stats is a point-in-time snapshot of a client.
type Stats struct {
	State           State
	Attempts        int
	QueueLength     int
	QueueCapacity   int
	PendingRequests int

	MessagesSent     uint64
	MessagesReceived uint64
	MessagesQueued   uint64
	MessagesDropped  uint64
	MessagesFlushed  uint64
	HeartbeatsSent   uint64
	HeartbeatAcks    uint64

	ParseErrors     uint64
	SendErrors      uint64
	TransportErrors uint64
	HandlerErrors   uint64
	HandlerPanics   uint64

	Connects          uint64
	Reconnects        uint64
	ReconnectAttempts uint64

	LastConnectedAt    time.Time
	LastDisconnectedAt time.Time
	LastReceivedAt     time.Time
	LastAttempt        AttemptRecord
}

// Stats returns a snapshot of the client's state and counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		State:              c.state,
		Attempts:           c.attempts,
		PendingRequests:    len(c.pending),
		LastConnectedAt:    c.lastConnectedAt,
		LastDisconnectedAt: c.lastDisconnectedAt,
		LastReceivedAt:     c.lastReceivedAt,
		LastAttempt:        c.lastAttempt,
	}
	if c.queue != nil {
		s.QueueLength = c.queue.Len()
		s.QueueCapacity = c.queue.Cap()
	}
	c.mu.Unlock()

	s.MessagesSent = c.counters.sent.Load()
	s.MessagesReceived = c.counters.received.Load()
	s.MessagesQueued = c.counters.queued.Load()
	s.MessagesDropped = c.counters.dropped.Load()
	s.MessagesFlushed = c.counters.flushed.Load()
	s.HeartbeatsSent = c.counters.heartbeats.Load()
	s.HeartbeatAcks = c.counters.heartbeatAcks.Load()
	s.ParseErrors = c.counters.parseErrors.Load()
	s.SendErrors = c.counters.sendErrors.Load()
	s.TransportErrors = c.counters.transportErrors.Load()
	s.Connects = c.counters.connects.Load()
	s.Reconnects = c.counters.reconnects.Load()
	s.ReconnectAttempts = c.counters.reconnectAttempts.Load()

	dispatch := c.bus.GetMetrics()
	s.HandlerErrors = dispatch.Errors
	s.HandlerPanics = dispatch.Panics

	return s
}

// QueuedMessages returns a copy of the outbound queue, oldest first.
func (c *Client) QueuedMessages() []QueuedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue == nil {
		return nil
	}
	return c.queue.Snapshot()
}
