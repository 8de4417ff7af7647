package merge

import (
	"context"
	"sync"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/models"
)

// memStore is a transactional in-memory Store. A transaction works on a
// private copy that replaces the committed state only when fn succeeds.
type memStore struct {
	mu       sync.Mutex
	listings map[identity.Identity]*models.Listing
	changes  []models.PriceChange
	nextID   uint

	failFind      error
	failAppend    error
	conflictsLeft int
}

func newMemStore() *memStore {
	return &memStore{listings: make(map[identity.Identity]*models.Listing)}
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		listings: make(map[identity.Identity]*models.Listing, len(s.listings)),
		changes:  append([]models.PriceChange(nil), s.changes...),
		nextID:   s.nextID,
	}
	for k, v := range s.listings {
		tx.listings[k] = v.Clone()
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.listings = tx.listings
	s.changes = tx.changes
	s.nextID = tx.nextID
	return nil
}

func (s *memStore) get(source, id string) *models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listings[identity.Identity{Source: source, SourceListingID: id}]
	if l == nil {
		return nil
	}
	return l.Clone()
}

func (s *memStore) priceChanges() []models.PriceChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PriceChange(nil), s.changes...)
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listings)
}

type memTx struct {
	store    *memStore
	listings map[identity.Identity]*models.Listing
	changes  []models.PriceChange
	nextID   uint
}

func (tx *memTx) FindListing(id identity.Identity) (*models.Listing, error) {
	if tx.store.failFind != nil {
		return nil, tx.store.failFind
	}
	l, ok := tx.listings[id]
	if !ok {
		return nil, nil
	}
	return l.Clone(), nil
}

func (tx *memTx) CreateListing(l *models.Listing) error {
	id := identity.Of(l)
	if _, ok := tx.listings[id]; ok {
		return ErrConflict
	}
	tx.nextID++
	l.ID = tx.nextID
	tx.listings[id] = l.Clone()
	return nil
}

func (tx *memTx) UpdateListing(l *models.Listing, expectedVersion int) error {
	if tx.store.conflictsLeft > 0 {
		tx.store.conflictsLeft--
		return ErrConflict
	}
	id := identity.Of(l)
	cur, ok := tx.listings[id]
	if !ok || cur.Version != expectedVersion {
		return ErrConflict
	}
	tx.listings[id] = l.Clone()
	return nil
}

func (tx *memTx) AppendPriceChange(c *models.PriceChange) error {
	if tx.store.failAppend != nil {
		return tx.store.failAppend
	}
	c.ID = uint(len(tx.changes) + 1)
	tx.changes = append(tx.changes, *c)
	return nil
}
