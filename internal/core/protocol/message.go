package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/wsclient/pkg/encoding"
	"github.com/zeusync/wsclient/pkg/generic"
)

var _ encoding.Serializable = (*Message)(nil)

// Message is the JSON envelope exchanged with the server:
//
//	{"type": "chat", "data": {...}, "timestamp": 1700000000000, "id": "..."}
//
// Timestamp is in unix milliseconds. ID is only set on messages that expect a
// correlated reply.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

var bufferPool = generic.NewHotPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 512)) },
	func(b *bytes.Buffer) { b.Reset() },
	16,
)

// NewMessage builds a message of msgType carrying data encoded as JSON.
// data may already be a json.RawMessage, in which case it is used verbatim.
func NewMessage(msgType string, data any) (*Message, error) {
	if msgType == "" {
		return nil, ErrEmptyType
	}

	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		encoded, err := encodeJSON(v)
		if err != nil {
			return nil, NewProtocolError(ErrorCodeSend, "encode payload", err).
				WithContext("type", msgType)
		}
		raw = encoded
	}

	return &Message{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewRequest builds a message with a fresh correlation id.
func NewRequest(msgType string, data any) (*Message, error) {
	m, err := NewMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	m.ID = uuid.NewString()
	return m, nil
}

// Reply builds a message answering m: same id, given type and data.
func (m *Message) Reply(msgType string, data any) (*Message, error) {
	r, err := NewMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	r.ID = m.ID
	return r, nil
}

// Time returns Timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Decode unmarshals the data field into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(m.Data, v)
}

// Serialize encodes the message as a single JSON text frame.
func (m *Message) Serialize() ([]byte, error) {
	out, err := encodeJSON(m)
	if err != nil {
		return nil, NewProtocolError(ErrorCodeSend, "encode message", err)
	}
	return out, nil
}

// encodeJSON is json.Marshal without HTML escaping, using a pooled buffer.
func encodeJSON(v any) ([]byte, error) {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Encode appends a newline; the frame does not need it
	out := make([]byte, buf.Len()-1)
	copy(out, buf.Bytes())
	return out, nil
}

// Deserialize decodes a frame produced by Serialize (or by the server).
func (m *Message) Deserialize(frame []byte) error {
	var decoded Message
	if err := json.Unmarshal(frame, &decoded); err != nil {
		return NewProtocolError(ErrorCodeParse, "decode frame", err).
			WithContext("size", len(frame))
	}
	if decoded.Type == "" {
		return NewProtocolError(ErrorCodeParse, "decode frame", ErrInvalidFrame).
			WithContext("reason", "missing type")
	}
	*m = decoded
	return nil
}

// ParseMessage decodes an inbound frame.
func ParseMessage(frame []byte) (*Message, error) {
	m := &Message{}
	if err := m.Deserialize(frame); err != nil {
		return nil, err
	}
	return m, nil
}
