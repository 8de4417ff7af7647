package merge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/models"
)

// Outcome classifies a successful merge.
type Outcome int

const (
	Inserted Outcome = iota + 1
	UpdatedWithPriceChange
	UpdatedNoPriceChange
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case UpdatedWithPriceChange:
		return "price_changed"
	case UpdatedNoPriceChange:
		return "unchanged"
	default:
		return "unknown"
	}
}

// EngineConfig tunes an Engine. Zero values select defaults.
type EngineConfig struct {
	MaxConflictRetries int
	Clock              func() time.Time
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConflictRetries: 3,
		Clock:              func() time.Time { return time.Now().UTC() },
	}
}

// Engine applies candidates to a Store.
type Engine struct {
	store      Store
	maxRetries int
	now        func() time.Time
	locks      *keyedMutex
}

// NewEngine creates an engine with default settings.
func NewEngine(store Store) *Engine {
	return NewEngineWithConfig(store, DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine with custom settings.
func NewEngineWithConfig(store Store, cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = def.MaxConflictRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	return &Engine{
		store:      store,
		maxRetries: cfg.MaxConflictRetries,
		now:        cfg.Clock,
		locks:      newKeyedMutex(),
	}
}

// Merge reconciles c into the store and returns the resulting listing.
//
// Errors wrap ErrMalformedCandidate (nothing written), ErrStoreUnavailable
// (safe to retry later with the same candidate) or ErrConflict (the retry
// budget ran out against a concurrent writer).
func (e *Engine) Merge(ctx context.Context, c models.Candidate) (*models.Listing, Outcome, error) {
	id, err := identity.Validate(c)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedCandidate, err)
	}

	unlock := e.locks.Lock(id.String())
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		listing, outcome, err := e.mergeOnce(ctx, id, c)
		if err == nil {
			return listing, outcome, nil
		}
		if !errors.Is(err, ErrConflict) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("%w: merge %s: %w", ErrStoreUnavailable, id, err)
		}

		lastErr = err
		log.Printf("MergeEngine: conflict on %s (attempt %d/%d)", id, attempt, e.maxRetries+1)
	}

	return nil, 0, fmt.Errorf("merge %s: retries exhausted: %w", id, lastErr)
}

func (e *Engine) mergeOnce(ctx context.Context, id identity.Identity, c models.Candidate) (*models.Listing, Outcome, error) {
	var (
		result  *models.Listing
		outcome Outcome
	)

	err := e.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.FindListing(id)
		if err != nil {
			return fmt.Errorf("find listing: %w", err)
		}

		now := e.now()

		if existing == nil {
			listing := newListing(id, c, now)
			if err := tx.CreateListing(listing); err != nil {
				return fmt.Errorf("create listing: %w", err)
			}
			result, outcome = listing, Inserted
			return nil
		}

		next, change := apply(existing, c, now)
		if err := tx.UpdateListing(next, existing.Version); err != nil {
			return fmt.Errorf("update listing %d: %w", existing.ID, err)
		}

		outcome = UpdatedNoPriceChange
		if change != nil {
			if err := tx.AppendPriceChange(change); err != nil {
				return fmt.Errorf("append price change for listing %d: %w", existing.ID, err)
			}
			outcome = UpdatedWithPriceChange
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	return result, outcome, nil
}
