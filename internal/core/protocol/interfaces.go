package protocol

import (
	"context"
	"net/http"
)

//go:generate mockgen -destination=mocks/protocol_mock.go -package=mocks . Transport,Conn

// Transport opens connections to a server URL.
type Transport interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// Conn is a single message-oriented connection.
//
// ReadFrame blocks until a frame arrives. When the peer closes the connection
// it returns a *CloseError carrying the close code. WriteFrame may be called
// concurrently with ReadFrame; concurrent writers are serialized by the
// implementation. Close sends a close frame with code and reason (best effort)
// and releases the connection; it is safe to call more than once.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close(code int, reason string) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func (f TransportFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}
