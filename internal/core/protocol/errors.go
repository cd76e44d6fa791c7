package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Core protocol errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrDisconnected     = errors.New("disconnected by caller")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrEmptyType        = errors.New("message type is empty")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// ErrorCode classifies the failures a client surfaces through its error events.
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectionTimeout ErrorCode = 1002
	ErrorCodeTransport         ErrorCode = 1003
	ErrorCodeHeartbeatTimeout  ErrorCode = 1004
	ErrorCodeReconnectFailed   ErrorCode = 1009

	// Message error codes (3000-3999)

	ErrorCodeParse ErrorCode = 3003
	ErrorCodeSend  ErrorCode = 3005
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeConnectionTimeout:
		return "connection-timeout"
	case ErrorCodeTransport:
		return "transport-error"
	case ErrorCodeHeartbeatTimeout:
		return "heartbeat-timeout"
	case ErrorCodeReconnectFailed:
		return "reconnect-exhausted"
	case ErrorCodeParse:
		return "parse-error"
	case ErrorCodeSend:
		return "send-error"
	default:
		return "unknown"
	}
}

// Error represents a protocol-specific error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsTemporary reports whether the failure is recovered automatically by
// reconnecting or by simply carrying on.
func (e *Error) IsTemporary() bool {
	switch e.Code {
	case ErrorCodeConnectionTimeout,
		ErrorCodeTransport,
		ErrorCodeHeartbeatTimeout,
		ErrorCodeParse,
		ErrorCodeSend:
		return true
	default:
		return false
	}
}

// CodeOf extracts the ErrorCode from err, or ErrorCodeUnknown.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrorCodeUnknown
}

// CloseError reports how the peer (or the local side) closed a connection.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// Standard close codes used by the client.
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseAbnormalClosure = 1006
)

// IsCleanClose reports whether err is a normal (1000) closure.
func IsCleanClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == CloseNormalClosure
}
