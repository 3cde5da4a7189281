// Package bus provides the message bus that carries broadcasts and remote
// plugin calls between a host process and its extensions.
//
// The MessageBus interface offers pub/sub and request/reply over NATS or an
// in-process implementation. Subscriptions deliver on channels.
package bus

import (
	"context"
	"strings"

	"github.com/vinayprograms/pluginkit/errors"
)

// Common errors.
var (
	ErrClosed         = errors.Unavailable("bus closed")
	ErrTimeout        = errors.New(errors.ErrCodeTimeout, "request timeout")
	ErrNoResponders   = errors.Unavailable("no responders")
	ErrInvalidSubject = errors.InvalidInput("invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Reply is the subject a responder publishes its answer to.
	// Empty for plain pub/sub messages.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a queue subscription. Each message is delivered
	// to one member of the queue.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Request publishes data and waits for a single reply until ctx ends.
	// Returns ErrTimeout when the deadline passes and ErrNoResponders when
	// nobody is subscribed.
	Request(ctx context.Context, subject string, data []byte) (*Message, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks that subject is non-empty and has no empty tokens
// or whitespace.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// requestError maps a context error from a waiting request onto bus errors.
func requestError(err error) error {
	if err == context.DeadlineExceeded {
		return ErrTimeout
	}
	return errors.Wrap(err, "request canceled")
}
