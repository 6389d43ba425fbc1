package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/campflow/campflow-go/campaign"
	"github.com/dgraph-io/badger/v3"
	"github.com/goccy/go-json"
)

const (
	campaignKeyPrefix = "campaign:"
	ownerKeyPrefix    = "owner:"
)

// BadgerStore persists campaigns in a badger key-value database so execution
// survives process restarts. Each campaign lives under one key; an owner
// index key per campaign backs ListByOwner.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// BadgerOption configures the BadgerStore
type BadgerOption func(*BadgerStore)

// WithBadgerLogger sets the logger
func WithBadgerLogger(logger *slog.Logger) BadgerOption {
	return func(s *BadgerStore) {
		s.logger = logger
	}
}

// NewBadgerStore opens (or creates) a badger database at the given path
func NewBadgerStore(path string, options ...BadgerOption) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With("component", "badger-store")

	return s, nil
}

func campaignKey(id string) []byte {
	return []byte(campaignKeyPrefix + id)
}

func ownerKey(owner, id string) []byte {
	return []byte(ownerKeyPrefix + owner + ":" + id)
}

// Create stores a new campaign aggregate and its owner index entry
func (s *BadgerStore) Create(ctx context.Context, c *campaign.Campaign) error {
	if c == nil {
		return fmt.Errorf("campaign cannot be nil")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := campaignKey(c.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, c.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		if c.Owner != "" {
			return txn.Set(ownerKey(c.Owner, c.ID), []byte(c.ID))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("campaign created", "campaignId", c.ID, "templateKind", c.TemplateKind)
	return nil
}

// Get loads the campaign with the given ID
func (s *BadgerStore) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	var c campaign.Campaign

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(campaignKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// Update replaces the stored aggregate inside a single transaction, checking
// the caller's version against the stored one before writing. Transaction
// conflicts between racing writers surface as version conflicts too.
func (s *BadgerStore) Update(ctx context.Context, c *campaign.Campaign) error {
	if c == nil {
		return fmt.Errorf("campaign cannot be nil")
	}

	next := c.Version + 1
	err := s.db.Update(func(txn *badger.Txn) error {
		key := campaignKey(c.ID)
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
			}
			return err
		}

		var stored campaign.Campaign
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		if stored.Version != c.Version {
			return fmt.Errorf("%w: %s has version %d, update carries %d",
				ErrVersionConflict, c.ID, stored.Version, c.Version)
		}

		copied := *c
		copied.Version = next
		data, err := json.Marshal(&copied)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrVersionConflict, c.ID)
		}
		return err
	}

	c.Version = next
	return nil
}

// ListByOwner scans the owner index and loads each campaign, newest first
func (s *BadgerStore) ListByOwner(ctx context.Context, owner string) ([]*campaign.Campaign, error) {
	ids := make([]string, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(ownerKeyPrefix + owner + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*campaign.Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
