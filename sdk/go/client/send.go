package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeusync/wsclient/internal/core/observability/log"
	"github.com/zeusync/wsclient/internal/core/protocol"
)

// Delivery reports what Send did with a message.
type Delivery uint8

const (
	DeliveryFailed Delivery = iota
	// DeliverySent means the frame was written to the open connection.
	DeliverySent
	// DeliveryQueued means the message waits in the outbound queue for the
	// next successful connection.
	DeliveryQueued
)

func (d Delivery) String() string {
	switch d {
	case DeliverySent:
		return "sent"
	case DeliveryQueued:
		return "queued"
	default:
		return "failed"
	}
}

// QueuedMessage is an outbound message waiting for a connection.
type QueuedMessage struct {
	Message    *protocol.Message
	EnqueuedAt time.Time
}

// Send encodes data as a message of msgType and writes it when the client is
// open. While offline the message is queued if queueing is enabled, evicting
// the oldest queued message when the queue is full; otherwise ErrNotConnected
// is returned.
func (c *Client) Send(msgType string, data any) (Delivery, error) {
	msg, err := protocol.NewMessage(msgType, data)
	if err != nil {
		c.counters.sendErrors.Add(1)
		c.emitError(protocol.NewProtocolError(protocol.ErrorCodeSend, "encode "+msgType, err), nil)
		return DeliveryFailed, err
	}
	return c.sendMessage(msg)
}

// Request sends a message with a fresh correlation ID and waits for the first
// inbound message that carries the same ID.
func (c *Client) Request(ctx context.Context, msgType string, data any) (*protocol.Message, error) {
	msg, err := protocol.NewRequest(msgType, data)
	if err != nil {
		return nil, err
	}

	reply := make(chan *protocol.Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending[msg.ID] == reply {
			delete(c.pending, msg.ID)
		}
		c.mu.Unlock()
	}()

	if _, err = c.sendMessage(msg); err != nil {
		return nil, err
	}

	select {
	case m, ok := <-reply:
		if !ok {
			return nil, ErrDisconnected
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) sendMessage(msg *protocol.Message) (Delivery, error) {
	frame, err := c.encode(msg)
	if err != nil {
		c.counters.sendErrors.Add(1)
		sendErr := protocol.NewProtocolError(protocol.ErrorCodeSend, "send "+msg.Type, err)
		c.emitError(sendErr, nil)
		return DeliveryFailed, sendErr
	}

	c.mu.Lock()
	// while a flush is running new sends queue behind it to keep order
	if c.state == StateOpen && c.conn != nil && !(c.flushing && c.queue != nil) {
		conn := c.conn
		c.mu.Unlock()

		if err = c.writeFrame(conn, msg.Type, frame); err != nil {
			return DeliveryFailed, err
		}
		return DeliverySent, nil
	}

	if c.queue == nil {
		c.mu.Unlock()
		return DeliveryFailed, ErrNotConnected
	}
	c.enqueueLocked(msg)
	c.mu.Unlock()

	return DeliveryQueued, nil
}

// encode serializes msg and enforces MaxMessageSize, so nothing that can never
// be written reaches the queue.
func (c *Client) encode(msg *protocol.Message) ([]byte, error) {
	frame, err := msg.Serialize()
	if err != nil {
		return nil, err
	}
	if limit := c.config.MaxMessageSize; limit > 0 && int64(len(frame)) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", protocol.ErrMessageTooLarge, len(frame), limit)
	}
	return frame, nil
}

func (c *Client) enqueueLocked(msg *protocol.Message) {
	old, evicted := c.queue.Push(QueuedMessage{Message: msg, EnqueuedAt: time.Now()})
	c.counters.queued.Add(1)
	if evicted {
		c.counters.dropped.Add(1)
		c.logger.Warn("Outbound queue full, dropped oldest message",
			log.String("type", old.Message.Type),
			log.Int("capacity", c.queue.Cap()))
	}
}

func (c *Client) write(conn protocol.Conn, msg *protocol.Message) error {
	frame, err := msg.Serialize()
	if err != nil {
		c.counters.sendErrors.Add(1)
		sendErr := protocol.NewProtocolError(protocol.ErrorCodeSend, "write "+msg.Type, err)
		c.emitError(sendErr, nil)
		return sendErr
	}
	return c.writeFrame(conn, msg.Type, frame)
}

func (c *Client) writeFrame(conn protocol.Conn, msgType string, frame []byte) error {
	if err := conn.WriteFrame(frame); err != nil {
		c.counters.sendErrors.Add(1)
		sendErr := protocol.NewProtocolError(protocol.ErrorCodeSend, "write "+msgType, err)
		c.logger.Warn("Failed to send message",
			log.String("type", msgType),
			log.Error(err))
		c.emitError(sendErr, nil)
		return sendErr
	}

	c.counters.sent.Add(1)
	return nil
}

// undeliverable reports whether a write failed because of the message itself,
// leaving the connection usable.
func undeliverable(err error) bool {
	return errors.Is(err, protocol.ErrMessageTooLarge) || errors.Is(err, protocol.ErrEmptyType)
}

// flush drains the queue over conn in insertion order. A message the
// connection refuses is dropped and the flush goes on. Any other write failure
// puts the message back at the head and treats conn as lost, so the remainder
// is flushed after the next successful connect. A nil return means the queue
// was drained and conn is still current.
func (c *Client) flush(gen uint64, conn protocol.Conn) error {
	flushed := 0
	defer func() {
		if flushed > 0 {
			c.logger.Info("Flushed queued messages", log.Int("count", flushed))
		}
	}()

	for {
		c.mu.Lock()
		if gen != c.generation || c.conn != conn {
			c.mu.Unlock()
			return ErrNotConnected
		}
		if c.queue == nil || c.queue.IsEmpty() {
			c.flushing = false
			c.mu.Unlock()
			return nil
		}
		item, _ := c.queue.Pop()
		c.mu.Unlock()

		err := c.write(conn, item.Message)
		if err == nil {
			flushed++
			c.counters.flushed.Add(1)
			continue
		}

		if undeliverable(err) {
			c.counters.dropped.Add(1)
			c.logger.Warn("Dropped queued message the connection refused",
				log.String("type", item.Message.Type),
				log.Error(err))
			continue
		}

		c.mu.Lock()
		if gen == c.generation && c.conn == conn && c.queue != nil {
			if _, evicted := c.queue.PushFront(item); evicted {
				c.counters.dropped.Add(1)
			}
		}
		c.mu.Unlock()

		cause := errors.Unwrap(err)
		if cause == nil {
			cause = err
		}
		c.handleConnectionLost(gen, conn, cause)
		return err
	}
}

func (c *Client) resolvePending(msg *protocol.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if ok {
		ch <- msg
	}
}
