package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Upgrader accepts websocket connections on the server side and wraps them
// as Connections sharing the same Config as the dialer side.
type Upgrader struct {
	config   Config
	upgrader websocket.Upgrader
}

// NewUpgrader creates an upgrader. Origins are not checked.
func NewUpgrader(config Config) *Upgrader {
	return &Upgrader{
		config: config,
		upgrader: websocket.Upgrader{
			HandshakeTimeout:  config.HandshakeTimeout,
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			EnableCompression: config.EnableCompression,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
	}
}

// Upgrade performs the websocket handshake. On failure the HTTP error has
// already been written to w.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, header http.Header) (*Connection, error) {
	conn, err := u.upgrader.Upgrade(w, r, header)
	if err != nil {
		return nil, errors.Wrap(err, "websocket upgrade")
	}
	return NewConnection(conn, u.config), nil
}
