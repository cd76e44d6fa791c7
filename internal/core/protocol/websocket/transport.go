package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
)

var _ protocol.Transport = (*Transport)(nil)

// Config tunes a websocket Transport and the connections it produces.
type Config struct {
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	ReadBufferSize    int
	WriteBufferSize   int
	EnableCompression bool
}

// DefaultConfig returns default transport settings.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxMessageSize:   1024 * 1024, // 1MB
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}

// Transport dials websocket servers with gorilla/websocket.
type Transport struct {
	config Config
	dialer *websocket.Dialer
	logger log.Log
}

// NewTransport creates a websocket transport.
func NewTransport(config Config, logger log.Log) *Transport {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Transport{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  config.HandshakeTimeout,
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
		},
		logger: logger.With(log.String("component", "ws_transport")),
	}
}

// Dial opens a connection to url. The attempt is abandoned when ctx ends;
// a deadline on ctx surfaces as a connection-timeout error.
func (t *Transport) Dial(ctx context.Context, url string, header http.Header) (protocol.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if deadlineReached(ctx, err) {
			return nil, protocol.NewProtocolError(protocol.ErrorCodeConnectionTimeout, "dial "+url, err)
		}
		pe := protocol.NewProtocolError(protocol.ErrorCodeTransport, "dial "+url, err)
		if resp != nil {
			pe.WithContext("status", resp.StatusCode)
		}
		return nil, pe
	}

	t.logger.Debug("Websocket connected",
		log.String("url", url),
		log.String("remote_addr", conn.RemoteAddr().String()))

	return NewConnection(conn, t.config), nil
}

func deadlineReached(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}
