package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/campflow/campflow-go/campaign"
)

// InMemoryStore keeps campaigns in a map, mainly for tests and single-process
// deployments. All methods operate on deep copies.
type InMemoryStore struct {
	mu        sync.RWMutex
	campaigns map[string]*campaign.Campaign
}

// NewInMemoryStore creates an empty in-memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		campaigns: make(map[string]*campaign.Campaign),
	}
}

// Create stores a new campaign aggregate
func (s *InMemoryStore) Create(ctx context.Context, c *campaign.Campaign) error {
	if c == nil {
		return fmt.Errorf("campaign cannot be nil")
	}

	copied, err := c.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.campaigns[c.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, c.ID)
	}
	s.campaigns[c.ID] = copied
	return nil
}

// Get loads a copy of the campaign with the given ID
func (s *InMemoryStore) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	s.mu.RLock()
	stored, exists := s.campaigns[id]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return stored.Clone()
}

// Update replaces the stored aggregate when the caller holds the current
// version, then bumps the version on both sides.
func (s *InMemoryStore) Update(ctx context.Context, c *campaign.Campaign) error {
	if c == nil {
		return fmt.Errorf("campaign cannot be nil")
	}

	copied, err := c.Clone()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.campaigns[c.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	if stored.Version != c.Version {
		return fmt.Errorf("%w: %s has version %d, update carries %d",
			ErrVersionConflict, c.ID, stored.Version, c.Version)
	}

	copied.Version++
	s.campaigns[c.ID] = copied
	c.Version = copied.Version
	return nil
}

// ListByOwner returns copies of all campaigns for an owner, newest first
func (s *InMemoryStore) ListByOwner(ctx context.Context, owner string) ([]*campaign.Campaign, error) {
	s.mu.RLock()
	matched := make([]*campaign.Campaign, 0)
	for _, stored := range s.campaigns {
		if stored.Owner == owner {
			matched = append(matched, stored)
		}
	}
	s.mu.RUnlock()

	out := make([]*campaign.Campaign, 0, len(matched))
	for _, stored := range matched {
		copied, err := stored.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close is a no-op for the in-memory store
func (s *InMemoryStore) Close() error {
	return nil
}
