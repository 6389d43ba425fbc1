package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campflow/campflow-go/contracts"
	"github.com/campflow/campflow-go/transport"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	defaultCapabilityQueuePrefix = "agent."
	defaultCallTimeout           = 30 * time.Second
)

// QueueInvoker calls capabilities over the broker: one request published to
// the capability's queue, one correlated reply on a private reply queue.
type QueueInvoker struct {
	transport   transport.Transport
	logger      *slog.Logger
	queuePrefix string
	replyQueue  string
	timeout     time.Duration

	mu      sync.Mutex
	pending map[string]chan *contracts.AgentReply
	closed  bool
}

// QueueInvokerOption configures the QueueInvoker
type QueueInvokerOption func(*QueueInvoker)

// WithInvokerLogger sets the logger
func WithInvokerLogger(logger *slog.Logger) QueueInvokerOption {
	return func(q *QueueInvoker) {
		q.logger = logger
	}
}

// WithCallTimeout sets the bounded per-call deadline
func WithCallTimeout(timeout time.Duration) QueueInvokerOption {
	return func(q *QueueInvoker) {
		q.timeout = timeout
	}
}

// WithCapabilityQueuePrefix sets the prefix for capability queue names
func WithCapabilityQueuePrefix(prefix string) QueueInvokerOption {
	return func(q *QueueInvoker) {
		q.queuePrefix = prefix
	}
}

// NewQueueInvoker creates the invoker and opens its private reply queue
func NewQueueInvoker(ctx context.Context, t transport.Transport, options ...QueueInvokerOption) (*QueueInvoker, error) {
	q := &QueueInvoker{
		transport:   t,
		logger:      slog.Default(),
		queuePrefix: defaultCapabilityQueuePrefix,
		replyQueue:  fmt.Sprintf("campflow.replies.%s", uuid.New().String()[:8]),
		timeout:     defaultCallTimeout,
		pending:     make(map[string]chan *contracts.AgentReply),
	}
	for _, opt := range options {
		opt(q)
	}
	q.logger = q.logger.With("component", "queue-invoker")

	err := t.CreateQueue(ctx, q.replyQueue, transport.QueueOptions{
		Durable:    false,
		AutoDelete: true,
		Exclusive:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reply queue: %w", err)
	}

	err = t.Subscriber().Subscribe(ctx, q.replyQueue, q.handleReply, transport.SubscriptionOptions{
		AutoAck:   true,
		Exclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to reply queue: %w", err)
	}

	return q, nil
}

// CapabilityQueue returns the queue a capability listens on
func (q *QueueInvoker) CapabilityQueue(capability string) string {
	return q.queuePrefix + capability
}

// Invoke performs exactly one request/reply round trip with a bounded
// deadline. Publish failures map to unreachable, elapsed deadlines to
// timeout, and failure replies to their reported kind.
func (q *QueueInvoker) Invoke(ctx context.Context, capability string, request Request) (*Response, error) {
	agentRequest := contracts.NewAgentRequest(capability, request.CampaignID, request.StageOrder, request.Parameters, request.PriorOutputs)
	correlationID := uuid.New().String()
	agentRequest.SetCorrelationID(correlationID)
	agentRequest.ReplyTo = q.replyQueue

	body, err := json.Marshal(agentRequest)
	if err != nil {
		return nil, Unreachable(capability, fmt.Errorf("failed to marshal request: %w", err))
	}

	replyChan := make(chan *contracts.AgentReply, 1)
	q.mu.Lock()
	q.pending[correlationID] = replyChan
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.pending, correlationID)
		q.mu.Unlock()
	}()

	envelope := &contracts.Envelope{
		ID:            agentRequest.GetID(),
		Type:          agentRequest.GetType(),
		Timestamp:     agentRequest.GetTimestamp().Format(time.RFC3339Nano),
		CorrelationID: correlationID,
		ReplyTo:       q.replyQueue,
		Body:          body,
	}

	callCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if err := q.transport.Publisher().Publish(callCtx, q.CapabilityQueue(capability), envelope); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, Timeout(capability, err)
		}
		return nil, Unreachable(capability, err)
	}

	select {
	case reply := <-replyChan:
		return q.interpretReply(capability, reply)
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, Timeout(capability, callCtx.Err())
		}
		return nil, Unreachable(capability, callCtx.Err())
	}
}

func (q *QueueInvoker) interpretReply(capability string, reply *contracts.AgentReply) (*Response, error) {
	if reply.IsSuccess() {
		return &Response{Output: reply.Output}, nil
	}

	switch reply.FailureKind {
	case contracts.FailureUnreachable:
		return nil, &InvokeError{Capability: capability, Kind: KindUnreachable, Message: reply.FailureMessage}
	case contracts.FailureTimeout:
		return nil, &InvokeError{Capability: capability, Kind: KindTimeout, Message: reply.FailureMessage}
	default:
		return nil, Rejected(capability, reply.FailureMessage)
	}
}

func (q *QueueInvoker) handleReply(delivery transport.Delivery) {
	var envelope contracts.Envelope
	if err := json.Unmarshal(delivery.Body(), &envelope); err != nil {
		q.logger.Error("failed to decode reply envelope", "error", err)
		return
	}

	var reply contracts.AgentReply
	if err := json.Unmarshal(envelope.Body, &reply); err != nil {
		q.logger.Error("failed to decode agent reply", "error", err)
		return
	}

	correlationID := envelope.CorrelationID
	if correlationID == "" {
		correlationID = reply.GetCorrelationID()
	}
	if correlationID == "" {
		q.logger.Warn("reply missing correlation ID", "messageId", envelope.ID)
		return
	}

	q.mu.Lock()
	replyChan, exists := q.pending[correlationID]
	q.mu.Unlock()

	if !exists {
		q.logger.Debug("reply for unknown or expired request", "correlationId", correlationID)
		return
	}

	select {
	case replyChan <- &reply:
	default:
	}
}

// Close tears down the reply subscription
func (q *QueueInvoker) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	return q.transport.Subscriber().Unsubscribe(q.replyQueue)
}
