package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
)

// fakeTransport hands out in-memory connections.
type fakeTransport struct {
	mu      sync.Mutex
	dials   int
	failErr error
	gate    chan struct{}
	conns   []*fakeConn
	// configure, when set, adjusts the n-th connection (0-based) before use
	configure func(n int, conn *fakeConn)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) Dial(ctx context.Context, _ string, _ http.Header) (protocol.Conn, error) {
	t.mu.Lock()
	t.dials++
	gate := t.gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failErr != nil {
		return nil, t.failErr
	}
	conn := newFakeConn()
	if t.configure != nil {
		t.configure(len(t.conns), conn)
	}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) setFail(err error) {
	t.mu.Lock()
	t.failErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) setConfigure(fn func(n int, conn *fakeConn)) {
	t.mu.Lock()
	t.configure = fn
	t.mu.Unlock()
}

func (t *fakeTransport) at(n int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[n]
}

func (t *fakeTransport) connCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) setGate(gate chan struct{}) {
	t.mu.Lock()
	t.gate = gate
	t.mu.Unlock()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type fakeConn struct {
	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu          sync.Mutex
	written     [][]byte
	readErr     error
	closeCode   int
	closeReason string
	closedLocal bool

	maxFrame  int           // frames above this size are refused, 0 = no limit
	failAfter int           // writes after this many succeeded fail, 0 = never
	closeGate chan struct{} // Close blocks until it is closed
}

var errBrokenPipe = errors.New("write: broken pipe")

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) WriteFrame(frame []byte) error {
	select {
	case <-c.done:
		return protocol.ErrConnectionClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxFrame > 0 && len(frame) > c.maxFrame {
		return fmt.Errorf("%w: %d bytes", protocol.ErrMessageTooLarge, len(frame))
	}
	if c.failAfter > 0 && len(c.written) >= c.failAfter {
		return errBrokenPipe
	}
	c.written = append(c.written, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.closedLocal = true
		c.readErr = protocol.ErrConnectionClosed
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// drop simulates the peer or the network ending the connection.
func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.readErr = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) push(frame string) {
	c.inbound <- []byte(frame)
}

func (c *fakeConn) messages(t *testing.T) []*protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*protocol.Message, 0, len(c.written))
	for _, f := range c.written {
		var m protocol.Message
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, &m)
	}
	return out
}

func (c *fakeConn) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range c.messages(t) {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeConn) writtenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func (c *fakeConn) closeInfo() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason, c.closedLocal
}

// recorder collects events of the given types in dispatch order.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Client, types ...string) *recorder {
	r := &recorder{}
	for _, typ := range types {
		c.On(typ, func(e Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) ofType(typ string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) count(typ string) int {
	return len(r.ofType(typ))
}

func testConfig() Config {
	cfg := DefaultClientConfig()
	cfg.URL = "ws://fake.test/ws"
	cfg.ConnectTimeout = time.Second
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 100 * time.Millisecond
	cfg.Jitter = 0
	cfg.HeartbeatInterval = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config, tr protocol.Transport) *Client {
	t.Helper()
	c, err := NewClient(cfg, WithLogger(log.NewNop()), WithTransport(tr))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Disconnect(0, "")
	})
	return c
}

func connectNow(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.ConnectWait(ctx))
}
