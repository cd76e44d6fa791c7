package client

import (
	"errors"

	"github.com/zeusync/wsclient/internal/core/protocol"
)

// Client-specific errors
var (
	ErrNotConnected    = protocol.ErrNotConnected
	ErrDisconnected    = protocol.ErrDisconnected
	ErrInvalidConfig   = protocol.ErrInvalidConfig
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
)
