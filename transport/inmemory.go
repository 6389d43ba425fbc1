package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/campflow/campflow-go/contracts"
	"github.com/goccy/go-json"
)

// InMemoryTransport is a process-local Transport for tests and single-process
// deployments. Each queue dispatches serialized envelopes to its subscriber
// on a dedicated goroutine, preserving per-queue ordering.
type InMemoryTransport struct {
	mu        sync.Mutex
	queues    map[string]*memoryQueue
	connected bool
	closed    bool
}

type memoryQueue struct {
	messages chan []byte
	done     chan struct{}
	consumed bool
}

// NewInMemoryTransport creates an empty in-memory transport
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		queues:    make(map[string]*memoryQueue),
		connected: true,
	}
}

// Publisher implements Transport
func (t *InMemoryTransport) Publisher() Publisher { return &memoryPublisher{transport: t} }

// Subscriber implements Transport
func (t *InMemoryTransport) Subscriber() Subscriber { return &memorySubscriber{transport: t} }

// CreateQueue creates the queue if it doesn't exist
func (t *InMemoryTransport) CreateQueue(ctx context.Context, name string, options QueueOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}
	t.ensureQueue(name)
	return nil
}

// DeleteQueue removes the queue and stops its dispatcher
func (t *InMemoryTransport) DeleteQueue(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q, exists := t.queues[name]; exists {
		close(q.done)
		delete(t.queues, name)
	}
	return nil
}

// Connect is a no-op for the in-memory transport
func (t *InMemoryTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

// Close stops all queue dispatchers
func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	for name, q := range t.queues {
		close(q.done)
		delete(t.queues, name)
	}
	return nil
}

// IsConnected implements Transport
func (t *InMemoryTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *InMemoryTransport) ensureQueue(name string) *memoryQueue {
	q, exists := t.queues[name]
	if !exists {
		q = &memoryQueue{
			messages: make(chan []byte, 256),
			done:     make(chan struct{}),
		}
		t.queues[name] = q
	}
	return q
}

type memoryPublisher struct {
	transport *InMemoryTransport
}

func (p *memoryPublisher) Publish(ctx context.Context, queue string, envelope *contracts.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	p.transport.mu.Lock()
	if p.transport.closed {
		p.transport.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	q := p.transport.ensureQueue(queue)
	p.transport.mu.Unlock()

	select {
	case q.messages <- data:
		return nil
	case <-q.done:
		return fmt.Errorf("queue %s deleted", queue)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *memoryPublisher) Close() error { return nil }

type memorySubscriber struct {
	transport *InMemoryTransport
}

func (s *memorySubscriber) Subscribe(ctx context.Context, queue string, handler func(Delivery), options SubscriptionOptions) error {
	s.transport.mu.Lock()
	if s.transport.closed {
		s.transport.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	q := s.transport.ensureQueue(queue)
	if q.consumed {
		s.transport.mu.Unlock()
		return fmt.Errorf("queue %s already has a subscriber", queue)
	}
	q.consumed = true
	s.transport.mu.Unlock()

	go func() {
		for {
			select {
			case body := <-q.messages:
				handler(&memoryDelivery{body: body, queue: q})
			case <-q.done:
				return
			}
		}
	}()
	return nil
}

func (s *memorySubscriber) Unsubscribe(queue string) error {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()

	if q, exists := s.transport.queues[queue]; exists && q.consumed {
		close(q.done)
		delete(s.transport.queues, queue)
	}
	return nil
}

func (s *memorySubscriber) Close() error { return nil }

type memoryDelivery struct {
	body  []byte
	queue *memoryQueue
}

func (d *memoryDelivery) Body() []byte { return d.body }

func (d *memoryDelivery) Acknowledge() error { return nil }

// Reject requeues the message at the back of the queue when asked
func (d *memoryDelivery) Reject(requeue bool) error {
	if !requeue {
		return nil
	}
	select {
	case d.queue.messages <- d.body:
		return nil
	case <-d.queue.done:
		return nil
	default:
		return fmt.Errorf("queue full, message dropped")
	}
}

func (d *memoryDelivery) Headers() map[string]interface{} { return nil }
