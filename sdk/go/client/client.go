// Package client provides a resilient WebSocket client: automatic
// reconnection with exponential backoff, heartbeats, an outbound queue that
// buffers sends while offline, and typed event dispatch.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/wsclient/internal/core/events/bus"
	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
	"github.com/zeusync/wsclient/internal/core/protocol/websocket"
	"github.com/zeusync/wsclient/pkg/sequence"
)

// Client owns one logical connection to a server. All lifecycle state is
// guarded by mu; events are emitted after mu is released.
type Client struct {
	id        string
	config    Config
	header    http.Header
	logger    log.Log
	transport protocol.Transport
	bus       bus.EventBus
	policy    *ReconnectPolicy

	mu             sync.Mutex
	state          State
	conn           protocol.Conn
	generation     uint64 // bumped by every dial and by Disconnect; stale callbacks compare against it
	attempts       int
	everConnected  bool
	dialCancel     context.CancelFunc
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	queue          *sequence.BoundedQueue[QueuedMessage]
	flushing       bool
	pending        map[string]chan *protocol.Message
	waiters        []chan error
	lastAttempt    AttemptRecord

	lastConnectedAt    time.Time
	lastDisconnectedAt time.Time
	lastReceivedAt     time.Time

	counters counters
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger replaces the logger built from Config.LogLevel.
func WithLogger(logger log.Log) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTransport replaces the default gorilla/websocket transport.
func WithTransport(transport protocol.Transport) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// NewClient creates a client in the closed state. Call Connect to start it.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		id:      uuid.NewString(),
		config:  config,
		header:  http.Header{},
		bus:     bus.New(),
		policy:  NewReconnectPolicy(config),
		state:   StateClosed,
		pending: make(map[string]chan *protocol.Message),
	}
	for k, v := range config.Headers {
		c.header.Set(k, v)
	}
	if config.QueueEnabled {
		c.queue = sequence.NewBoundedQueue[QueuedMessage](config.MaxQueueSize)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		level, err := log.ParseLevel(config.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		c.logger = log.New(level)
	}
	c.logger = c.logger.With(log.String("component", "client"), log.String("client_id", c.id))

	if c.transport == nil {
		c.transport = NewTransport(config, c.logger)
	}

	c.logger.Info("Client created", log.String("url", config.URL))

	return c, nil
}

// NewTransport builds the gorilla/websocket transport configured from config.
func NewTransport(config Config, logger log.Log) *websocket.Transport {
	wsConfig := websocket.DefaultConfig()
	wsConfig.HandshakeTimeout = config.ConnectTimeout
	wsConfig.WriteTimeout = config.WriteTimeout
	wsConfig.MaxMessageSize = config.MaxMessageSize
	return websocket.NewTransport(wsConfig, logger)
}

// ID returns the client ID
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is open
func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// Connect starts a connection attempt and returns immediately. It is a no-op
// while the client is already open or connecting.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.stopReconnectTimerLocked()
	gen, ctx := c.beginDialLocked()
	c.mu.Unlock()

	c.logger.Info("Connecting to server", log.String("url", c.config.URL))
	c.emitStateChange(from, StateConnecting)

	go c.dial(gen, ctx)
}

// ConnectWait calls Connect and blocks until the attempt opens, fails, or ctx ends.
func (c *Client) ConnectWait(ctx context.Context) error {
	ch := make(chan error, 1)

	c.mu.Lock()
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.Connect()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		c.mu.Lock()
		c.waiters = slices.DeleteFunc(c.waiters, func(w chan error) bool { return w == ch })
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Reconnect restarts connecting after the reconnection budget was exhausted.
// The attempt counter starts over.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()

	c.Connect()
}

// Disconnect closes the connection with code and reason (1000 when code is 0).
// Pending timers are cancelled, the outbound queue is cleared, pending
// requests fail with ErrDisconnected, and no reconnection is scheduled.
func (c *Client) Disconnect(code int, reason string) error {
	if code == 0 {
		code = protocol.CloseNormalClosure
	}

	c.mu.Lock()
	from := c.state
	c.generation++
	c.clearDialLocked()
	c.stopReconnectTimerLocked()
	c.stopHeartbeatLocked()
	dropped := 0
	if c.queue != nil {
		dropped = c.queue.Clear()
	}
	c.flushing = false
	c.attempts = 0
	pending := c.pending
	c.pending = make(map[string]chan *protocol.Message)
	waiters := c.takeWaitersLocked()
	conn := c.conn
	c.conn = nil
	switch {
	case conn != nil:
		c.state = StateClosing
	case from != StateClosing:
		// a concurrent Disconnect owns the closing to closed transition
		c.state = StateClosed
		c.lastDisconnectedAt = time.Now()
	}
	c.mu.Unlock()

	c.logger.Info("Disconnecting from server",
		log.Int("code", code),
		log.String("reason", reason),
		log.Int("dropped_messages", dropped))

	for _, ch := range pending {
		close(ch)
	}
	notifyWaiters(waiters, ErrDisconnected)

	var err error
	if conn != nil {
		c.emitStateChange(from, StateClosing)
		err = conn.Close(code, reason)

		c.mu.Lock()
		closed := c.state == StateClosing
		if closed {
			c.state = StateClosed
			c.lastDisconnectedAt = time.Now()
		}
		c.mu.Unlock()
		// a Connect during Close already moved the client on
		if closed {
			c.emitStateChange(StateClosing, StateClosed)
		}
	} else if from == StateClosed || from == StateClosing {
		// already disconnected or disconnecting; only timers and the queue were cleared
		return nil
	} else {
		c.emitStateChange(from, StateClosed)
	}

	c.emit(Event{Type: EventDisconnected, Code: code, Reason: reason})

	return err
}

// beginDialLocked moves to connecting and arms the connection-timeout.
func (c *Client) beginDialLocked() (uint64, context.Context) {
	c.generation++
	c.clearDialLocked()
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	c.dialCancel = cancel
	c.state = StateConnecting
	return c.generation, ctx
}

func (c *Client) dial(gen uint64, ctx context.Context) {
	conn, err := c.transport.Dial(ctx, c.config.URL, c.header)
	if err != nil {
		c.handleDialFailure(gen, classifyDialError(ctx, err))
		return
	}
	c.handleOpen(gen, conn)
}

func (c *Client) handleOpen(gen uint64, conn protocol.Conn) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateConnecting {
		c.mu.Unlock()
		_ = conn.Close(protocol.CloseNormalClosure, "superseded")
		return
	}
	c.clearDialLocked()
	now := time.Now()
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	reconnected := c.everConnected
	c.everConnected = true
	c.lastConnectedAt = now
	c.lastReceivedAt = now
	c.flushing = true
	stop := make(chan struct{})
	c.heartbeatStop = stop
	waiters := c.takeWaitersLocked()
	c.mu.Unlock()

	c.counters.connects.Add(1)
	if reconnected {
		c.counters.reconnects.Add(1)
	}

	c.logger.Info("Connected to server",
		log.String("url", c.config.URL),
		log.Bool("reconnected", reconnected))

	go c.readLoop(gen, conn)
	if c.config.HeartbeatInterval > 0 {
		go c.heartbeatLoop(gen, conn, stop)
	}

	c.emitStateChange(StateConnecting, StateOpen)
	if err := c.flush(gen, conn); err != nil {
		// lost or superseded before the queue drained
		notifyWaiters(waiters, err)
		return
	}
	c.emit(Event{Type: EventConnected})
	notifyWaiters(waiters, nil)
}

func (c *Client) handleDialFailure(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.clearDialLocked()
	c.state = StateClosed
	c.lastDisconnectedAt = time.Now()
	waiters := c.takeWaitersLocked()
	c.mu.Unlock()

	c.counters.transportErrors.Add(1)
	c.logger.Warn("Failed to connect to server",
		log.String("url", c.config.URL),
		log.Error(err))

	c.emitStateChange(StateConnecting, StateClosed)
	c.emitError(err, nil)
	notifyWaiters(waiters, err)
	c.scheduleReconnect(gen)
}

// handleConnectionLost runs once per connection, for whichever of the read
// loop or the heartbeat notices the failure first.
func (c *Client) handleConnectionLost(gen uint64, conn protocol.Conn, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	c.flushing = false
	c.state = StateClosed
	c.lastDisconnectedAt = time.Now()
	c.mu.Unlock()

	_ = conn.Close(protocol.CloseGoingAway, "")

	clean := protocol.IsCleanClose(cause)
	code, reason := closeDetails(cause)

	if clean {
		c.logger.Info("Server closed the connection",
			log.Int("code", code),
			log.String("reason", reason))
	} else {
		c.counters.transportErrors.Add(1)
		c.logger.Warn("Connection lost",
			log.Int("code", code),
			log.Error(cause))
		c.emitError(asTransportError(cause), nil)
	}

	c.emitStateChange(StateOpen, StateClosed)
	c.emit(Event{Type: EventDisconnected, Code: code, Reason: reason, Err: cause})

	if !clean {
		c.scheduleReconnect(gen)
	}
}

func (c *Client) scheduleReconnect(gen uint64) {
	if !c.config.AutoReconnect {
		return
	}

	c.mu.Lock()
	if gen != c.generation || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	if c.policy.Exhausted(c.attempts) {
		attempts := c.attempts
		c.mu.Unlock()

		err := protocol.NewProtocolError(protocol.ErrorCodeReconnectFailed,
			fmt.Sprintf("gave up after %d attempts", attempts), ErrReconnectFailed)
		c.logger.Error("Reconnection failed permanently", log.Int("attempts", attempts))
		c.emit(Event{Type: EventReconnectFailed, Attempt: attempts, Err: err})
		return
	}
	delay := c.policy.Jittered(c.attempts)
	c.attempts++
	record := AttemptRecord{Attempt: c.attempts, Delay: delay, ScheduledAt: time.Now()}
	c.lastAttempt = record
	c.mu.Unlock()

	c.logger.Info("Reconnection attempt scheduled",
		log.Int("attempt", record.Attempt),
		log.Duration("delay", delay))
	c.emit(Event{Type: EventReconnecting, Attempt: record.Attempt, Delay: delay})

	c.mu.Lock()
	defer c.mu.Unlock()
	// a listener may have called Connect or Disconnect meanwhile
	if gen != c.generation || c.state != StateClosed || c.attempts != record.Attempt {
		return
	}
	c.reconnectTimer = time.AfterFunc(delay, func() { c.fireReconnect(gen) })
}

func (c *Client) fireReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	next, ctx := c.beginDialLocked()
	c.mu.Unlock()

	c.counters.reconnectAttempts.Add(1)
	c.emitStateChange(StateClosed, StateConnecting)
	c.dial(next, ctx)
}

func (c *Client) readLoop(gen uint64, conn protocol.Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			c.handleConnectionLost(gen, conn, err)
			return
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame []byte) {
	c.counters.received.Add(1)
	c.mu.Lock()
	c.lastReceivedAt = time.Now()
	c.mu.Unlock()

	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		c.counters.parseErrors.Add(1)
		c.logger.Warn("Dropping malformed frame",
			log.Int("size", len(frame)),
			log.Error(err))
		c.emitError(err, frame)
		return
	}

	if msg.ID != "" {
		c.resolvePending(msg)
	}
	if msg.Type == c.config.HeartbeatAckType {
		c.counters.heartbeatAcks.Add(1)
	}

	c.emit(Event{Type: EventMessage, Message: msg})
	if !isLifecycleEvent(msg.Type) {
		c.emit(Event{Type: msg.Type, Message: msg})
	}
}

func (c *Client) clearDialLocked() {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
}

func (c *Client) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Client) takeWaitersLocked() []chan error {
	w := c.waiters
	c.waiters = nil
	return w
}

func notifyWaiters(waiters []chan error, err error) {
	for _, ch := range waiters {
		select {
		case ch <- err:
		default:
		}
	}
}

func classifyDialError(ctx context.Context, err error) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return protocol.NewProtocolError(protocol.ErrorCodeConnectionTimeout, "connect", err)
	}
	return protocol.NewProtocolError(protocol.ErrorCodeTransport, "connect", err)
}

func asTransportError(err error) error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return err
	}
	return protocol.NewProtocolError(protocol.ErrorCodeTransport, "connection lost", err)
}

func closeDetails(err error) (int, string) {
	var ce *protocol.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if err != nil {
		return protocol.CloseAbnormalClosure, err.Error()
	}
	return protocol.CloseAbnormalClosure, ""
}
