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

	"github.com/campflow/campflow-go/store"
	"github.com/campflow/campflow-go/transport"
)

func TestQueueSchedulerDeliversTasks(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	defer tr.Close()

	advanced := make(chan string, 10)
	s := NewQueueScheduler(tr)
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		advanced <- campaignID
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Schedule(context.Background(), "c1"))
	require.NoError(t, s.Schedule(context.Background(), "c2"))

	got := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case id := <-advanced:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatal("advance task never delivered")
		}
	}
	assert.ElementsMatch(t, []string{"c1", "c2"}, got)
}

func TestQueueSchedulerRequeuesTransientFailures(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	defer tr.Close()

	var mu sync.Mutex
	attempts := 0
	succeeded := make(chan struct{})

	s := NewQueueScheduler(tr)
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return errors.New("version conflict")
		}
		close(succeeded)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Schedule(context.Background(), "c1"))

	select {
	case <-succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("requeued task never succeeded")
	}
}

func TestQueueSchedulerDropsUnknownCampaigns(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	defer tr.Close()

	attempts := make(chan string, 10)
	s := NewQueueScheduler(tr)
	err := s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		attempts <- campaignID
		return fmt.Errorf("%w: %s", store.ErrNotFound, campaignID)
	})
	require.NoError(t, err)

	require.NoError(t, s.Schedule(context.Background(), "ghost"))

	select {
	case <-attempts:
	case <-time.After(2 * time.Second):
		t.Fatal("task never delivered")
	}

	// the task was dropped, never requeued
	select {
	case id := <-attempts:
		t.Fatalf("task for %s was requeued", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueSchedulerCustomQueueName(t *testing.T) {
	tr := transport.NewInMemoryTransport()
	defer tr.Close()

	s := NewQueueScheduler(tr, WithAdvanceQueue("campflow.advance.test"))
	advanced := make(chan string, 1)
	require.NoError(t, s.Start(context.Background(), func(ctx context.Context, campaignID string) error {
		advanced <- campaignID
		return nil
	}))

	require.NoError(t, s.Schedule(context.Background(), "c1"))

	select {
	case id := <-advanced:
		assert.Equal(t, "c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("advance task never delivered")
	}
}
