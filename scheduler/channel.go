package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campflow/campflow-go/internal/reliability"
	"github.com/campflow/campflow-go/store"
)

// ChannelScheduler dispatches advance tasks through an in-process channel
// and a bounded worker pool. A campaign ID is enqueued at most once at a
// time and never dispatched while an advance for it is still in flight:
// scheduling a running campaign re-arms it to run once more after the
// current advance returns.
type ChannelScheduler struct {
	logger  *slog.Logger
	workers int
	retry   reliability.RetryPolicy
	tasks   chan string

	mu      sync.Mutex
	queued  map[string]bool
	running map[string]bool
	rearm   map[string]bool
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// ChannelOption configures the ChannelScheduler
type ChannelOption func(*ChannelScheduler)

// WithWorkers sets the worker pool size
func WithWorkers(workers int) ChannelOption {
	return func(s *ChannelScheduler) {
		s.workers = workers
	}
}

// WithQueueDepth sets the task channel capacity
func WithQueueDepth(depth int) ChannelOption {
	return func(s *ChannelScheduler) {
		s.tasks = make(chan string, depth)
	}
}

// WithSchedulerLogger sets the logger
func WithSchedulerLogger(logger *slog.Logger) ChannelOption {
	return func(s *ChannelScheduler) {
		s.logger = logger
	}
}

// WithAdvanceRetry sets the retry policy applied when an advance returns an
// error (persistence failures, scheduling races). The advance itself is
// idempotent, so re-running it is always safe.
func WithAdvanceRetry(policy reliability.RetryPolicy) ChannelOption {
	return func(s *ChannelScheduler) {
		s.retry = policy
	}
}

// NewChannelScheduler creates a stopped scheduler; call Start to run it
func NewChannelScheduler(options ...ChannelOption) *ChannelScheduler {
	s := &ChannelScheduler{
		logger:  slog.Default(),
		workers: 4,
		retry:   reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 5),
		queued:  make(map[string]bool),
		running: make(map[string]bool),
		rearm:   make(map[string]bool),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.tasks == nil {
		s.tasks = make(chan string, 256)
	}
	s.logger = s.logger.With("component", "channel-scheduler")
	return s
}

// Start launches the worker pool driving advance
func (s *ChannelScheduler) Start(ctx context.Context, advance AdvanceFunc) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, advance)
	}
	return nil
}

// Schedule enqueues the next advance for a campaign. Scheduling an already
// queued campaign is a no-op; scheduling a campaign whose advance is in
// flight re-arms it instead of dispatching a concurrent advance.
func (s *ChannelScheduler) Schedule(ctx context.Context, campaignID string) error {
	select {
	case <-s.done:
		return fmt.Errorf("scheduler stopped")
	default:
	}

	s.mu.Lock()
	if s.running[campaignID] {
		s.rearm[campaignID] = true
		s.mu.Unlock()
		return nil
	}
	if s.queued[campaignID] {
		s.mu.Unlock()
		return nil
	}
	s.queued[campaignID] = true
	s.mu.Unlock()

	select {
	case s.tasks <- campaignID:
		return nil
	case <-s.done:
		s.clearQueued(campaignID)
		return fmt.Errorf("scheduler stopped")
	case <-ctx.Done():
		s.clearQueued(campaignID)
		return ctx.Err()
	}
}

// Stop shuts the pool down and waits for in-flight advances to finish
func (s *ChannelScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *ChannelScheduler) worker(ctx context.Context, advance AdvanceFunc) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case campaignID := <-s.tasks:
			s.beginRun(campaignID)
			s.run(ctx, advance, campaignID)
			if s.finishRun(campaignID) {
				select {
				case s.tasks <- campaignID:
				case <-s.done:
					s.clearQueued(campaignID)
					return
				case <-ctx.Done():
					s.clearQueued(campaignID)
					return
				}
			}
		}
	}
}

func (s *ChannelScheduler) run(ctx context.Context, advance AdvanceFunc, campaignID string) {
	err := reliability.Retry(ctx, s.retry, func() error {
		err := advance(ctx, campaignID)
		if errors.Is(err, store.ErrNotFound) {
			return reliability.PermanentError{Err: err}
		}
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("dropping advance for unknown campaign", "campaignId", campaignID)
			return
		}
		s.logger.Error("advance gave up after retries",
			"campaignId", campaignID,
			"error", err)
	}
}

// beginRun moves the campaign from queued to running, closing the window in
// which a second Schedule could dispatch a concurrent advance.
func (s *ChannelScheduler) beginRun(campaignID string) {
	s.mu.Lock()
	delete(s.queued, campaignID)
	s.running[campaignID] = true
	s.mu.Unlock()
}

// finishRun releases the running slot and reports whether a Schedule that
// arrived mid-flight re-armed the campaign for another advance.
func (s *ChannelScheduler) finishRun(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.running, campaignID)
	if s.rearm[campaignID] {
		delete(s.rearm, campaignID)
		s.queued[campaignID] = true
		return true
	}
	return false
}

func (s *ChannelScheduler) clearQueued(campaignID string) {
	s.mu.Lock()
	delete(s.queued, campaignID)
	s.mu.Unlock()
}
