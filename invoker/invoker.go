// Package invoker performs single-attempt remote calls to named agent
// capabilities. Failures carry a typed kind (unreachable, rejected, timeout)
// so callers can decide retry eligibility without parsing messages; the
// invoker itself never loops.
package invoker

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrorKind classifies an invocation failure
type ErrorKind string

const (
	// KindUnreachable marks network or transport failures
	KindUnreachable ErrorKind = "unreachable"

	// KindRejected marks domain-level failures reported by the capability
	KindRejected ErrorKind = "rejected"

	// KindTimeout marks calls that exceeded the bounded deadline
	KindTimeout ErrorKind = "timeout"
)

// InvokeError is the typed failure returned by an Invoker
type InvokeError struct {
	Capability string
	Kind       ErrorKind
	Message    string
	Err        error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("invoke %s: %s: %s", e.Capability, e.Kind, e.Message)
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

// Unreachable builds a transport failure
func Unreachable(capability string, err error) *InvokeError {
	return &InvokeError{Capability: capability, Kind: KindUnreachable, Message: err.Error(), Err: err}
}

// Rejected builds a domain-level failure
func Rejected(capability, message string) *InvokeError {
	return &InvokeError{Capability: capability, Kind: KindRejected, Message: message}
}

// Timeout builds a deadline failure
func Timeout(capability string, err error) *InvokeError {
	return &InvokeError{Capability: capability, Kind: KindTimeout, Message: err.Error(), Err: err}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// count as unreachable.
func KindOf(err error) ErrorKind {
	var invokeErr *InvokeError
	if errors.As(err, &invokeErr) {
		return invokeErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnreachable
}

// Request is the derived input for one stage execution
type Request struct {
	CampaignID   string                     `json:"campaignId"`
	StageOrder   int                        `json:"stageOrder"`
	Parameters   json.RawMessage            `json:"parameters,omitempty"`
	PriorOutputs map[string]json.RawMessage `json:"priorOutputs,omitempty"`
}

// Response is the opaque success payload of a capability call
type Response struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// Invoker performs exactly one attempt against a named capability. Any retry
// policy is layered by the caller.
type Invoker interface {
	Invoke(ctx context.Context, capability string, request Request) (*Response, error)
}

// InvokerFunc adapts a function to the Invoker interface
type InvokerFunc func(ctx context.Context, capability string, request Request) (*Response, error)

// Invoke implements Invoker
func (f InvokerFunc) Invoke(ctx context.Context, capability string, request Request) (*Response, error) {
	return f(ctx, capability, request)
}
