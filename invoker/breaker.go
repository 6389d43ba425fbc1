package invoker

import (
	"context"
	"errors"
	"sync"

	"github.com/campflow/campflow-go/internal/reliability"
)

// BreakerInvoker wraps an Invoker with one circuit breaker per capability.
// It still performs at most one attempt per call; when a capability's breaker
// is open the call fails fast with an unreachable error instead of hitting
// the broker.
type BreakerInvoker struct {
	next    Invoker
	options []reliability.CircuitBreakerOption

	mu       sync.Mutex
	breakers map[string]*reliability.CircuitBreaker
}

// NewBreakerInvoker wraps next with per-capability circuit breakers
func NewBreakerInvoker(next Invoker, options ...reliability.CircuitBreakerOption) *BreakerInvoker {
	return &BreakerInvoker{
		next:     next,
		options:  options,
		breakers: make(map[string]*reliability.CircuitBreaker),
	}
}

func (b *BreakerInvoker) breaker(capability string) *reliability.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, exists := b.breakers[capability]
	if !exists {
		options := append([]reliability.CircuitBreakerOption{
			reliability.WithBreakerName(capability),
		}, b.options...)
		cb = reliability.NewCircuitBreaker(options...)
		b.breakers[capability] = cb
	}
	return cb
}

// Invoke implements Invoker. Rejections reported by the capability are
// successful round trips as far as the breaker is concerned; only
// transport-level failures and timeouts trip it.
func (b *BreakerInvoker) Invoke(ctx context.Context, capability string, request Request) (*Response, error) {
	var response *Response
	var rejection error

	err := b.breaker(capability).Execute(ctx, func() error {
		resp, err := b.next.Invoke(ctx, capability, request)
		if err != nil {
			if KindOf(err) == KindRejected {
				rejection = err
				return nil
			}
			return err
		}
		response = resp
		return nil
	})
	if err != nil {
		var open *reliability.BreakerOpenError
		if errors.As(err, &open) {
			return nil, Unreachable(capability, open)
		}
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}

	return response, nil
}
