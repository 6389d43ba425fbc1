// Package transport abstracts the message broker used for advance-task
// scheduling and agent request/reply. Implementations live in subpackages;
// the orchestration core only sees these interfaces.
package transport

import (
	"context"

	"github.com/campflow/campflow-go/contracts"
)

// Publisher sends envelopes through the broker
type Publisher interface {
	// Publish sends an envelope to a queue (direct routing)
	Publish(ctx context.Context, queue string, envelope *contracts.Envelope) error

	// Close closes the publisher
	Close() error
}

// Delivery represents one message handed to a subscriber
type Delivery interface {
	// Body returns the message body
	Body() []byte

	// Acknowledge marks the message as successfully processed
	Acknowledge() error

	// Reject rejects the message with optional requeue
	Reject(requeue bool) error

	// Headers returns message headers
	Headers() map[string]interface{}
}

// Subscriber consumes deliveries from queues
type Subscriber interface {
	// Subscribe registers a handler for messages on a queue
	Subscribe(ctx context.Context, queue string, handler func(Delivery), options SubscriptionOptions) error

	// Unsubscribe removes a subscription
	Unsubscribe(queue string) error

	// Close closes the subscriber
	Close() error
}

// Transport bundles broker access for the orchestration core
type Transport interface {
	Publisher() Publisher
	Subscriber() Subscriber

	// CreateQueue creates a queue if it doesn't exist
	CreateQueue(ctx context.Context, name string, options QueueOptions) error

	// DeleteQueue deletes a queue
	DeleteQueue(ctx context.Context, name string) error

	// Connect establishes the broker connection
	Connect(ctx context.Context) error

	// Close closes all resources
	Close() error

	// IsConnected returns connection status
	IsConnected() bool
}

// QueueOptions defines options for queue creation
type QueueOptions struct {
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Args       map[string]interface{}
}

// SubscriptionOptions defines options for subscriptions
type SubscriptionOptions struct {
	AutoAck       bool
	Exclusive     bool
	PrefetchCount int
}
