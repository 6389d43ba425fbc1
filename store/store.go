// Package store persists campaign aggregates, one durable record per
// campaign ID, with atomic read-modify-write per key via optimistic
// versioning. Concurrent updates for different campaigns never contend on
// the same key.
package store

import (
	"context"
	"errors"

	"github.com/campflow/campflow-go/campaign"
)

var (
	// ErrNotFound is returned when no campaign exists for the given ID
	ErrNotFound = errors.New("campaign not found")

	// ErrAlreadyExists is returned when creating a campaign whose ID is taken
	ErrAlreadyExists = errors.New("campaign already exists")

	// ErrVersionConflict is returned when an update carries a stale version
	ErrVersionConflict = errors.New("campaign version conflict")
)

// Store is the campaign state store. Get returns a private copy; Update
// succeeds only when the caller read the version it is replacing, and bumps
// the stored version on success (mirrored into the passed aggregate).
type Store interface {
	Create(ctx context.Context, c *campaign.Campaign) error
	Get(ctx context.Context, id string) (*campaign.Campaign, error)
	Update(ctx context.Context, c *campaign.Campaign) error
	ListByOwner(ctx context.Context, owner string) ([]*campaign.Campaign, error)
	Close() error
}
