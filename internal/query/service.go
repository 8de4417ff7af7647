package query

import (
	"context"
	"fmt"
	"time"

	"vehicle-deal-tracker/internal/models"
)

// Reader is the part of the store the query layer reads from.
type Reader interface {
	GetListing(ctx context.Context, id uint) (*models.Listing, error)
	ListListings(ctx context.Context, vehicleMake, vehicleModel string) ([]models.Listing, error)
	PriceChangesSince(ctx context.Context, since time.Time) ([]models.PriceChangeDetail, error)
}

// Service answers listing and price-change queries. The default filter is
// an explicit value fixed at construction.
type Service struct {
	reader   Reader
	defaults FilterSpec
	now      func() time.Time
}

// NewService creates a query service over r with default filters.
func NewService(r Reader, defaults FilterSpec) *Service {
	return &Service{
		reader:   r,
		defaults: defaults,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Defaults returns the configured default filter.
func (s *Service) Defaults() FilterSpec {
	return s.defaults
}

// Get returns one listing.
func (s *Service) Get(ctx context.Context, id uint) (*models.Listing, error) {
	return s.reader.GetListing(ctx, id)
}

// List returns all listings for make/model, cheapest first, unknown prices
// last. Empty make or model matches everything.
func (s *Service) List(ctx context.Context, vehicleMake, vehicleModel string) ([]models.Listing, error) {
	listings, err := s.reader.ListListings(ctx, vehicleMake, vehicleModel)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return listings, nil
}

// Search lists make/model and applies f.
func (s *Service) Search(ctx context.Context, vehicleMake, vehicleModel string, f FilterSpec) ([]models.Listing, error) {
	listings, err := s.List(ctx, vehicleMake, vehicleModel)
	if err != nil {
		return nil, err
	}
	return Filter(listings, f), nil
}

// Deals returns at most limit listings for make/model that pass the
// default filter, cheapest first. limit <= 0 means no limit.
func (s *Service) Deals(ctx context.Context, vehicleMake, vehicleModel string, limit int) ([]models.Listing, error) {
	listings, err := s.Search(ctx, vehicleMake, vehicleModel, s.defaults)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(listings) > limit {
		listings = listings[:limit]
	}
	return listings, nil
}

// PriceChanges returns the price-change events of the last days days,
// newest first.
func (s *Service) PriceChanges(ctx context.Context, days int) ([]models.PriceChangeDetail, error) {
	since := s.now().AddDate(0, 0, -days)
	changes, err := s.reader.PriceChangesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("price changes since %s: %w", since.Format(time.RFC3339), err)
	}
	return changes, nil
}

// PriceDrops is PriceChanges restricted to decreases.
func (s *Service) PriceDrops(ctx context.Context, days int) ([]models.PriceChangeDetail, error) {
	changes, err := s.PriceChanges(ctx, days)
	if err != nil {
		return nil, err
	}
	return Drops(changes), nil
}

// Drops keeps only the events where the price went down.
func Drops(changes []models.PriceChangeDetail) []models.PriceChangeDetail {
	out := make([]models.PriceChangeDetail, 0, len(changes))
	for _, c := range changes {
		if c.IsDrop() {
			out = append(out, c)
		}
	}
	return out
}
