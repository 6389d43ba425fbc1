// Package rabbitmq implements the transport interfaces over RabbitMQ with
// automatic reconnection and persistent, publisher-confirmed deliveries.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campflow/campflow-go/contracts"
	"github.com/campflow/campflow-go/transport"
	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Transport implements transport.Transport over an AMQP broker
type Transport struct {
	cm         *ConnectionManager
	logger     *slog.Logger
	publisher  *publisher
	subscriber *subscriber
}

// TransportOption configures the Transport
type TransportOption func(*Transport)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a RabbitMQ transport for the given connection string
func NewTransport(url string, options ...TransportOption) *Transport {
	t := &Transport{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}

	t.cm = NewConnectionManager(url, WithConnectionLogger(t.logger))
	t.publisher = &publisher{cm: t.cm, logger: t.logger.With("component", "rabbitmq-publisher")}
	t.subscriber = &subscriber{
		cm:       t.cm,
		logger:   t.logger.With("component", "rabbitmq-subscriber"),
		channels: make(map[string]*amqp.Channel),
	}
	return t
}

// Connect establishes the broker connection
func (t *Transport) Connect(ctx context.Context) error {
	return t.cm.Connect(ctx)
}

// Publisher returns the transport publisher
func (t *Transport) Publisher() transport.Publisher {
	return t.publisher
}

// Subscriber returns the transport subscriber
func (t *Transport) Subscriber() transport.Subscriber {
	return t.subscriber
}

// CreateQueue declares a queue if it doesn't exist
func (t *Transport) CreateQueue(ctx context.Context, name string, options transport.QueueOptions) error {
	ch, err := t.cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(name, options.Durable, options.AutoDelete, options.Exclusive, false, amqp.Table(options.Args))
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// DeleteQueue deletes a queue
func (t *Transport) DeleteQueue(ctx context.Context, name string) error {
	ch, err := t.cm.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("failed to delete queue %s: %w", name, err)
	}
	return nil
}

// IsConnected returns connection status
func (t *Transport) IsConnected() bool {
	return t.cm.IsConnected()
}

// Close closes all broker resources
func (t *Transport) Close() error {
	t.subscriber.Close()
	t.publisher.Close()
	return t.cm.Close()
}

// publisher sends envelopes on a confirmed channel. The channel is lazily
// opened and serialized by a mutex so confirms map to the last publish.
type publisher struct {
	cm     *ConnectionManager
	logger *slog.Logger

	mu       sync.Mutex
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

func (p *publisher) channel() (*amqp.Channel, chan amqp.Confirmation, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, p.confirms, nil
	}

	ch, err := p.cm.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return p.ch, p.confirms, nil
}

// Publish sends an envelope directly to a queue and waits for broker confirm
func (p *publisher) Publish(ctx context.Context, queue string, envelope *contracts.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, confirms, err := p.channel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     envelope.ID,
		Type:          envelope.Type,
		CorrelationId: envelope.CorrelationID,
		ReplyTo:       envelope.ReplyTo,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	select {
	case confirmation := <-confirms:
		if !confirmation.Ack {
			return fmt.Errorf("broker rejected publish to %s", queue)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the publishing channel
func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch.Close()
	}
	return nil
}

// subscriber consumes queue deliveries, one channel per queue
type subscriber struct {
	cm     *ConnectionManager
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]*amqp.Channel
}

// Subscribe registers a handler for a queue
func (s *subscriber) Subscribe(ctx context.Context, queue string, handler func(transport.Delivery), options transport.SubscriptionOptions) error {
	ch, err := s.cm.Channel()
	if err != nil {
		return err
	}

	if options.PrefetchCount > 0 {
		if err := ch.Qos(options.PrefetchCount, 0, false); err != nil {
			ch.Close()
			return fmt.Errorf("failed to set prefetch for %s: %w", queue, err)
		}
	}

	deliveries, err := ch.Consume(queue, "", options.AutoAck, options.Exclusive, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	s.mu.Lock()
	if _, exists := s.channels[queue]; exists {
		s.mu.Unlock()
		ch.Close()
		return fmt.Errorf("already subscribed to %s", queue)
	}
	s.channels[queue] = ch
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				handler(&amqpDelivery{d: d, autoAck: options.AutoAck})
			}
		}
	}()

	s.logger.Info("subscribed", "queue", queue, "prefetch", options.PrefetchCount)
	return nil
}

// Unsubscribe removes a subscription
func (s *subscriber) Unsubscribe(queue string) error {
	s.mu.Lock()
	ch, exists := s.channels[queue]
	delete(s.channels, queue)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("not subscribed to %s", queue)
	}
	return ch.Close()
}

// Close closes all consuming channels
func (s *subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for queue, ch := range s.channels {
		ch.Close()
		delete(s.channels, queue)
	}
	return nil
}

// amqpDelivery adapts amqp.Delivery to transport.Delivery
type amqpDelivery struct {
	d       amqp.Delivery
	autoAck bool
}

func (a *amqpDelivery) Body() []byte {
	return a.d.Body
}

func (a *amqpDelivery) Acknowledge() error {
	if a.autoAck {
		return nil
	}
	return a.d.Ack(false)
}

func (a *amqpDelivery) Reject(requeue bool) error {
	if a.autoAck {
		return nil
	}
	return a.d.Nack(false, requeue)
}

func (a *amqpDelivery) Headers() map[string]interface{} {
	return a.d.Headers
}
