package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campflow/campflow-go/internal/reliability"
	"github.com/campflow/campflow-go/store"
)

func TestChannelSchedulerRunsAdvances(t *testing.T) {
	var mu sync.Mutex
	advanced := make(map[string]int)
	done := make(chan struct{}, 10)

	s := NewChannelScheduler(WithWorkers(2))
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		mu.Lock()
		advanced[campaignID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), "c1"))
	require.NoError(t, s.Schedule(context.Background(), "c2"))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("advance never ran")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, advanced["c1"])
	assert.Equal(t, 1, advanced["c2"])
}

func TestChannelSchedulerDedupesQueuedCampaigns(t *testing.T) {
	release := make(chan struct{})
	ran := make(chan string, 10)

	// one worker, and the first task blocks until released, so repeated
	// schedules land while c1 is still queued
	s := NewChannelScheduler(WithWorkers(1))
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		if campaignID == "blocker" {
			<-release
			return nil
		}
		ran <- campaignID
		return nil
	})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), "blocker"))
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Schedule(context.Background(), "c1"))
	}
	close(release)

	select {
	case id := <-ran:
		assert.Equal(t, "c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("advance never ran")
	}

	// the five schedules collapsed into one queued advance
	select {
	case id := <-ran:
		t.Fatalf("unexpected extra advance for %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelSchedulerSerializesPerCampaign(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	runs := 0
	entered := make(chan struct{}, 10)
	release := make(chan struct{})

	// several workers, so a second advance for the same campaign could run
	// concurrently if dispatch allowed it
	s := NewChannelScheduler(WithWorkers(3))
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		mu.Lock()
		inFlight++
		runs++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		entered <- struct{}{}

		<-release

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), "c1"))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("advance never started")
	}

	// schedule again while the advance is in flight; must not dispatch a
	// concurrent advance, only re-arm the campaign
	require.NoError(t, s.Schedule(context.Background(), "c1"))
	require.NoError(t, s.Schedule(context.Background(), "c1"))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 1, runs)
	mu.Unlock()

	close(release)

	// the re-armed advance runs once the first one finishes
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("re-armed advance never ran")
	}

	mu.Lock()
	assert.Equal(t, 1, maxInFlight)
	assert.Equal(t, 2, runs)
	mu.Unlock()
}

func TestChannelSchedulerDropsUnknownCampaigns(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	seen := make(chan struct{}, 10)

	s := NewChannelScheduler(
		WithWorkers(1),
		WithAdvanceRetry(reliability.NewFixedDelay(10*time.Millisecond, 5)),
	)
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		seen <- struct{}{}
		return fmt.Errorf("%w: %s", store.ErrNotFound, campaignID)
	})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), "ghost"))

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("advance never ran")
	}

	// a missing campaign is permanent; the retry budget must not be spent
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()
}

func TestChannelSchedulerAllowsReschedulingFromAdvance(t *testing.T) {
	var scheduler *ChannelScheduler
	runs := make(chan string, 10)

	scheduler = NewChannelScheduler(WithWorkers(1))
	err := scheduler.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		runs <- campaignID
		if campaignID == "first" {
			// chained stages schedule the campaign again mid-advance
			return scheduler.Schedule(ctx, "first")
		}
		return nil
	})
	require.NoError(t, err)
	defer scheduler.Stop()

	require.NoError(t, scheduler.Schedule(context.Background(), "first"))

	for i := 0; i < 2; i++ {
		select {
		case id := <-runs:
			assert.Equal(t, "first", id)
		case <-time.After(2 * time.Second):
			t.Fatal("chained advance never ran")
		}
	}

	// the advance keeps rescheduling itself; drain the remaining runs so
	// the worker is never blocked sending while Stop waits for it to exit
	go func() {
		for range runs {
		}
	}()
}

func TestChannelSchedulerRetriesFailedAdvances(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	succeeded := make(chan struct{})

	s := NewChannelScheduler(
		WithWorkers(1),
		WithAdvanceRetry(reliability.NewFixedDelay(10*time.Millisecond, 5)),
	)
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return errors.New("store unavailable")
		}
		close(succeeded)
		return nil
	})
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule(context.Background(), "c1"))

	select {
	case <-succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("advance never succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestChannelSchedulerStop(t *testing.T) {
	s := NewChannelScheduler(WithWorkers(1))
	require.NoError(t, s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		return nil
	}))

	s.Stop()

	err := s.Schedule(context.Background(), "c1")
	assert.Error(t, err)

	// idempotent
	s.Stop()
}

func TestChannelSchedulerDoubleStart(t *testing.T) {
	s := NewChannelScheduler()
	noop := func(ctx context.Context, campaignID string) error { return nil }

	require.NoError(t, s.Start(context.Background(), noop))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background(), noop))
}
