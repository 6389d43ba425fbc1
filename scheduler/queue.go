package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campflow/campflow-go/contracts"
	"github.com/campflow/campflow-go/store"
	"github.com/campflow/campflow-go/transport"
	"github.com/goccy/go-json"
)

const defaultAdvanceQueue = "campflow.advance"

// AdvanceTask is the durable message representing one scheduled advance
type AdvanceTask struct {
	contracts.BaseMessage
	CampaignID string `json:"campaignId"`
}

// NewAdvanceTask creates a task for the given campaign
func NewAdvanceTask(campaignID string) *AdvanceTask {
	return &AdvanceTask{
		BaseMessage: contracts.NewBaseMessage("AdvanceTask"),
		CampaignID:  campaignID,
	}
}

// QueueScheduler persists advance tasks on a durable broker queue. Tasks
// survive restarts; a task whose advance fails transiently is requeued and
// replayed against the idempotent driver.
type QueueScheduler struct {
	transport transport.Transport
	logger    *slog.Logger
	queue     string
	prefetch  int
}

// QueueSchedulerOption configures the QueueScheduler
type QueueSchedulerOption func(*QueueScheduler)

// WithAdvanceQueue sets the queue name
func WithAdvanceQueue(queue string) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		s.queue = queue
	}
}

// WithQueueSchedulerLogger sets the logger
func WithQueueSchedulerLogger(logger *slog.Logger) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		s.logger = logger
	}
}

// WithPrefetch bounds how many tasks one consumer holds unacked
func WithPrefetch(prefetch int) QueueSchedulerOption {
	return func(s *QueueScheduler) {
		s.prefetch = prefetch
	}
}

// NewQueueScheduler creates a scheduler over the given transport
func NewQueueScheduler(t transport.Transport, options ...QueueSchedulerOption) *QueueScheduler {
	s := &QueueScheduler{
		transport: t,
		logger:    slog.Default(),
		queue:     defaultAdvanceQueue,
		prefetch:  8,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With("component", "queue-scheduler")
	return s
}

// Schedule publishes an advance task to the durable queue
func (s *QueueScheduler) Schedule(ctx context.Context, campaignID string) error {
	task := NewAdvanceTask(campaignID)
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal advance task: %w", err)
	}

	envelope := &contracts.Envelope{
		ID:        task.GetID(),
		Type:      task.GetType(),
		Timestamp: task.GetTimestamp().Format(time.RFC3339Nano),
		Body:      body,
	}

	if err := s.transport.Publisher().Publish(ctx, s.queue, envelope); err != nil {
		return fmt.Errorf("failed to enqueue advance for campaign %s: %w", campaignID, err)
	}
	return nil
}

// Start declares the queue and consumes tasks, driving advance for each.
// Transient advance errors requeue the task; tasks for campaigns that no
// longer exist are dropped.
func (s *QueueScheduler) Start(ctx context.Context, advance AdvanceFunc) error {
	err := s.transport.CreateQueue(ctx, s.queue, transport.QueueOptions{
		Durable: true,
	})
	if err != nil {
		return fmt.Errorf("failed to declare advance queue: %w", err)
	}

	handler := func(delivery transport.Delivery) {
		s.handle(ctx, advance, delivery)
	}

	err = s.transport.Subscriber().Subscribe(ctx, s.queue, handler, transport.SubscriptionOptions{
		PrefetchCount: s.prefetch,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to advance queue: %w", err)
	}

	s.logger.Info("consuming advance tasks", "queue", s.queue, "prefetch", s.prefetch)
	return nil
}

func (s *QueueScheduler) handle(ctx context.Context, advance AdvanceFunc, delivery transport.Delivery) {
	var envelope contracts.Envelope
	if err := json.Unmarshal(delivery.Body(), &envelope); err != nil {
		s.logger.Error("dropping undecodable advance task", "error", err)
		delivery.Reject(false)
		return
	}

	var task AdvanceTask
	if err := json.Unmarshal(envelope.Body, &task); err != nil || task.CampaignID == "" {
		s.logger.Error("dropping malformed advance task", "messageId", envelope.ID, "error", err)
		delivery.Reject(false)
		return
	}

	if err := advance(ctx, task.CampaignID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("dropping advance task for unknown campaign", "campaignId", task.CampaignID)
			delivery.Reject(false)
			return
		}
		s.logger.Warn("advance failed, requeueing task", "campaignId", task.CampaignID, "error", err)
		delivery.Reject(true)
		return
	}

	delivery.Acknowledge()
}
