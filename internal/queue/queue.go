// Package queue defines the transport of notify events between the engine,
// the notifier and the listener. Kafka carries them between processes; the
// in-memory queue serves single-node deployments and tests.
package queue

import (
	"context"
	"strconv"
)

// HeaderAttempt carries the delivery count of a redelivered message.
const HeaderAttempt = "x-attempt"

// Message is one notify event on the wire.
type Message struct {
	// Key is the wait instance id. Events of one instance share a partition.
	Key []byte

	// Value is the encoded event.
	Value []byte

	// Headers carry metadata such as the event source.
	Headers map[string]string
}

// Clone returns a copy with its own header map. Key and Value are shared.
func (m *Message) Clone() *Message {
	c := &Message{Key: m.Key, Value: m.Value, Headers: make(map[string]string, len(m.Headers)+1)}
	for k, v := range m.Headers {
		c.Headers[k] = v
	}
	return c
}

// Attempt returns the delivery count, starting at one.
func (m *Message) Attempt() int {
	if n, err := strconv.Atoi(m.Headers[HeaderAttempt]); err == nil && n > 0 {
		return n
	}
	return 1
}

// Producer publishes notify events. Implementations must be safe for
// concurrent use.
type Producer interface {
	// Publish sends a message. Messages with the same key are delivered in
	// publish order.
	Publish(ctx context.Context, msg *Message) error

	// Close releases any resources held by the producer.
	Close() error
}

// MessageHandler processes one consumed message. A returned error asks the
// transport to deliver the message again; a nil return acknowledges it,
// including messages the handler chose to drop.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer delivers messages to a handler.
type Consumer interface {
	// Start calls the handler for each message until the context is
	// canceled or the consumer is closed.
	Start(ctx context.Context, handler MessageHandler) error

	// Close stops consuming and releases any resources.
	Close() error
}
