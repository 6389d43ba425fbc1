package contracts

import (
	"time"
)

// Message is the base interface for all messages
type Message interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
	GetCorrelationID() string
	SetCorrelationID(correlationID string)
}

// Command represents an action to be performed by a remote capability
type Command interface {
	Message
	GetTargetCapability() string
}

// Event represents something that has happened to a campaign
type Event interface {
	Message
	GetAggregateID() string
	GetSequence() int64
}

// Reply represents a response to a capability invocation
type Reply interface {
	Message
	IsSuccess() bool
	GetError() error
}
