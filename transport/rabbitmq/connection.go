package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/campflow/campflow-go/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNotConnected is returned when the connection is not established
	ErrNotConnected = errors.New("rabbitmq: not connected")

	// ErrClosed is returned after Close has been called
	ErrClosed = errors.New("rabbitmq: connection manager closed")
)

// ConnectionManager owns the AMQP connection and reconnects with backoff
// when the broker drops it.
type ConnectionManager struct {
	url     string
	logger  *slog.Logger
	backoff reliability.RetryPolicy

	mu          sync.RWMutex
	conn        *amqp.Connection
	isConnected bool
	closed      bool
	done        chan struct{}
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectPolicy sets the backoff policy used between reconnect attempts
func WithReconnectPolicy(policy reliability.RetryPolicy) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.backoff = policy
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:     url,
		logger:  slog.Default(),
		backoff: reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 1<<30),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(cm)
	}
	cm.logger = cm.logger.With("component", "rabbitmq-connection")
	return cm
}

// Connect establishes the initial connection and starts the reconnect watch
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return ErrClosed
	}
	if cm.isConnected {
		return nil
	}

	conn, err := amqp.Dial(cm.url)
	if err != nil {
		return err
	}

	cm.conn = conn
	cm.isConnected = true
	cm.logger.Info("connected to broker")

	go cm.watchClose(conn)
	return nil
}

// GetConnection returns the live connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.closed {
		return nil, ErrClosed
	}
	if !cm.isConnected || cm.conn == nil {
		return nil, ErrNotConnected
	}
	return cm.conn, nil
}

// Channel opens a new channel on the live connection
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	conn, err := cm.GetConnection()
	if err != nil {
		return nil, err
	}
	return conn.Channel()
}

// IsConnected returns connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected && !cm.closed
}

// Close shuts down the connection and stops reconnecting
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true
	close(cm.done)

	cm.isConnected = false
	if cm.conn != nil {
		return cm.conn.Close()
	}
	return nil
}

func (cm *ConnectionManager) watchClose(conn *amqp.Connection) {
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-cm.done:
		return
	case amqpErr := <-notify:
		if amqpErr == nil {
			return
		}
		cm.logger.Warn("connection lost", "error", amqpErr)
	}

	cm.mu.Lock()
	cm.isConnected = false
	cm.mu.Unlock()

	cm.reconnect()
}

func (cm *ConnectionManager) reconnect() {
	for attempt := 0; ; attempt++ {
		select {
		case <-cm.done:
			return
		default:
		}

		delay := cm.backoff.NextDelay(attempt)
		cm.logger.Info("reconnecting to broker", "attempt", attempt+1, "delay", delay)

		select {
		case <-time.After(delay):
		case <-cm.done:
			return
		}

		conn, err := amqp.Dial(cm.url)
		if err != nil {
			cm.logger.Error("reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}

		cm.mu.Lock()
		if cm.closed {
			cm.mu.Unlock()
			conn.Close()
			return
		}
		cm.conn = conn
		cm.isConnected = true
		cm.mu.Unlock()

		cm.logger.Info("reconnected to broker", "attempt", attempt+1)
		go cm.watchClose(conn)
		return
	}
}
