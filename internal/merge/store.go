package merge

import (
	"context"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/models"
)

// Tx is the view of the store inside one transaction.
type Tx interface {
	// FindListing returns nil, nil when the identity is unknown.
	FindListing(id identity.Identity) (*models.Listing, error)

	// CreateListing inserts l and assigns its ID. A duplicate identity
	// yields ErrConflict.
	CreateListing(l *models.Listing) error

	// UpdateListing writes l only if the stored version still equals
	// expectedVersion, otherwise ErrConflict.
	UpdateListing(l *models.Listing, expectedVersion int) error

	// AppendPriceChange inserts c and assigns its ID.
	AppendPriceChange(c *models.PriceChange) error
}

// Store runs fn in a transaction: everything fn wrote is committed when it
// returns nil and rolled back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
