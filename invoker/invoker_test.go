package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campflow/campflow-go/internal/reliability"
)

func TestInvokeError(t *testing.T) {
	t.Run("formats capability and kind", func(t *testing.T) {
		err := Rejected("draft", "no template configured")

		assert.Equal(t, "invoke draft: rejected: no template configured", err.Error())
	})

	t.Run("unwraps the cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Unreachable("scan", cause)

		assert.ErrorIs(t, err, cause)
	})
}

func TestKindOf(t *testing.T) {
	t.Run("typed errors carry their kind", func(t *testing.T) {
		assert.Equal(t, KindRejected, KindOf(Rejected("draft", "bad input")))
		assert.Equal(t, KindTimeout, KindOf(Timeout("scan", context.DeadlineExceeded)))
		assert.Equal(t, KindUnreachable, KindOf(Unreachable("scan", errors.New("down"))))
	})

	t.Run("wrapped typed errors survive", func(t *testing.T) {
		wrapped := errors.Join(errors.New("stage 2"), Rejected("draft", "bad input"))

		assert.Equal(t, KindRejected, KindOf(wrapped))
	})

	t.Run("bare deadline errors map to timeout", func(t *testing.T) {
		assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	})

	t.Run("unclassified errors map to unreachable", func(t *testing.T) {
		assert.Equal(t, KindUnreachable, KindOf(errors.New("boom")))
	})
}

func TestInvokerFunc(t *testing.T) {
	fn := InvokerFunc(func(ctx context.Context, capability string, request Request) (*Response, error) {
		return &Response{Output: json.RawMessage(`{"ok":true}`)}, nil
	})

	resp, err := fn.Invoke(context.Background(), "scan", Request{CampaignID: "c1", StageOrder: 1})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Output))
}

func TestBreakerInvoker(t *testing.T) {
	ctx := context.Background()

	t.Run("passes successes through", func(t *testing.T) {
		b := NewBreakerInvoker(InvokerFunc(func(ctx context.Context, capability string, request Request) (*Response, error) {
			return &Response{Output: json.RawMessage(`{"targets":3}`)}, nil
		}))

		resp, err := b.Invoke(ctx, "scan", Request{})

		require.NoError(t, err)
		assert.JSONEq(t, `{"targets":3}`, string(resp.Output))
	})

	t.Run("opens after repeated transport failures", func(t *testing.T) {
		calls := 0
		b := NewBreakerInvoker(InvokerFunc(func(ctx context.Context, capability string, request Request) (*Response, error) {
			calls++
			return nil, Unreachable(capability, errors.New("broker down"))
		}), reliability.WithFailureThreshold(2))

		_, err := b.Invoke(ctx, "scan", Request{})
		require.Error(t, err)
		_, err = b.Invoke(ctx, "scan", Request{})
		require.Error(t, err)

		// breaker now open: the underlying invoker is not called again
		_, err = b.Invoke(ctx, "scan", Request{})
		require.Error(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, KindUnreachable, KindOf(err))

		var invokeErr *InvokeError
		require.ErrorAs(t, err, &invokeErr)
		var open *reliability.BreakerOpenError
		assert.ErrorAs(t, invokeErr.Err, &open)
	})

	t.Run("rejections do not trip the breaker", func(t *testing.T) {
		calls := 0
		b := NewBreakerInvoker(InvokerFunc(func(ctx context.Context, capability string, request Request) (*Response, error) {
			calls++
			return nil, Rejected(capability, "invalid parameters")
		}), reliability.WithFailureThreshold(2))

		for i := 0; i < 5; i++ {
			_, err := b.Invoke(ctx, "draft", Request{})
			require.Error(t, err)
			assert.Equal(t, KindRejected, KindOf(err))
		}

		assert.Equal(t, 5, calls)
	})

	t.Run("breakers are scoped per capability", func(t *testing.T) {
		b := NewBreakerInvoker(InvokerFunc(func(ctx context.Context, capability string, request Request) (*Response, error) {
			if capability == "scan" {
				return nil, Unreachable(capability, errors.New("down"))
			}
			return &Response{}, nil
		}), reliability.WithFailureThreshold(1))

		_, err := b.Invoke(ctx, "scan", Request{})
		require.Error(t, err)

		// scan's breaker is open, draft's is untouched
		_, err = b.Invoke(ctx, "draft", Request{})
		assert.NoError(t, err)
	})
}
