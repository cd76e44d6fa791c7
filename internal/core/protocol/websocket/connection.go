package websocket

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/wsclient/internal/core/protocol"
)

var _ protocol.Conn = (*Connection)(nil)

// Connection wraps a gorilla websocket connection as a protocol.Conn. It is
// used on both sides: the client dialer and the relay server.
type Connection struct {
	id          string
	conn        *websocket.Conn
	config      Config
	connectedAt time.Time

	lastActivity atomic.Int64 // unix nanoseconds
	closed       atomic.Bool

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

// Stats is a snapshot of per-connection counters.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	ConnectedAt      time.Time
	LastActivity     time.Time
}

// NewConnection wraps an established websocket connection.
func NewConnection(conn *websocket.Conn, config Config) *Connection {
	now := time.Now()
	c := &Connection{
		id:          uuid.NewString(),
		conn:        conn,
		config:      config,
		connectedAt: now,
	}
	c.lastActivity.Store(now.UnixNano())

	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	return c
}

// ID returns the connection ID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadFrame blocks until the next text or binary frame.
func (c *Connection) ReadFrame() ([]byte, error) {
	if c.IsClosed() {
		return nil, protocol.ErrConnectionClosed
	}

	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, c.translateReadError(err)
	}

	c.messagesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(data)))
	c.touch()

	return data, nil
}

// WriteFrame sends frame as a single text message.
func (c *Connection) WriteFrame(frame []byte) error {
	if c.IsClosed() {
		return protocol.ErrConnectionClosed
	}
	if c.config.MaxMessageSize > 0 && int64(len(frame)) > c.config.MaxMessageSize {
		return errors.Wrapf(protocol.ErrMessageTooLarge, "frame size %d exceeds limit %d", len(frame), c.config.MaxMessageSize)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrap(err, "failed to write message")
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(uint64(len(frame)))
	c.touch()

	return nil
}

// Ping sends a protocol-level ping control frame.
func (c *Connection) Ping() error {
	if c.IsClosed() {
		return protocol.ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrap(
		c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.controlTimeout())),
		"failed to write ping",
	)
}

// Close sends a close frame with code and reason, then closes the socket.
func (c *Connection) Close(code int, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if code == 0 {
		code = websocket.CloseNormalClosure
	}

	c.writeMu.Lock()
	closeMessage := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(c.controlTimeout()))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// IsClosed checks if the connection is closed
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// LastActivity returns the time of the last frame in either direction.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Stats returns a snapshot of the connection counters.
func (c *Connection) Stats() Stats {
	return Stats{
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		ConnectedAt:      c.connectedAt,
		LastActivity:     c.LastActivity(),
	}
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) controlTimeout() time.Duration {
	if c.config.WriteTimeout > 0 {
		return c.config.WriteTimeout
	}
	return time.Second
}

func (c *Connection) translateReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &protocol.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	if c.IsClosed() {
		return protocol.ErrConnectionClosed
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return errors.Wrap(protocol.ErrMessageTooLarge, err.Error())
	}
	return errors.Wrap(err, "failed to read message")
}
