package merge

import (
	"strings"
	"time"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/models"
)

// newListing builds the first stored state of an identity.
func newListing(id identity.Identity, c models.Candidate, now time.Time) *models.Listing {
	l := &models.Listing{
		Source:          id.Source,
		SourceListingID: id.SourceListingID,
		Make:            strings.TrimSpace(c.Make),
		Model:           strings.TrimSpace(c.Model),
		Year:            c.Year,
		FirstSeen:       now,
		LastSeen:        now,
		Version:         1,
	}
	l.Price = takeInt(nil, c.Price)
	overwriteFields(l, c)
	return l
}

// apply computes the next state of existing after observing c at now.
// existing is not modified. The returned change is nil unless a known
// price moved to a different known price.
func apply(existing *models.Listing, c models.Candidate, now time.Time) (*models.Listing, *models.PriceChange) {
	next := existing.Clone()

	// Event timestamps for one listing never go backwards.
	if now.Before(existing.LastSeen) {
		now = existing.LastSeen
	}

	var change *models.PriceChange
	switch {
	case existing.Price != nil && c.Price != nil && *existing.Price != *c.Price:
		next.AppendPriceHistory(models.PricePoint{Price: *existing.Price, Date: now})
		next.Price = models.IntPtr(*c.Price)
		change = &models.PriceChange{
			ListingID: existing.ID,
			OldPrice:  *existing.Price,
			NewPrice:  *c.Price,
			ChangedAt: now,
		}
	case existing.Price == nil:
		next.Price = takeInt(nil, c.Price)
	}

	if m := strings.TrimSpace(c.Make); m != "" {
		next.Make = m
	}
	if m := strings.TrimSpace(c.Model); m != "" {
		next.Model = m
	}
	if c.Year > 0 {
		next.Year = c.Year
	}
	overwriteFields(next, c)

	next.LastSeen = now
	next.Version = existing.Version + 1
	return next, change
}

// overwriteFields copies every optional non-price field c supplies.
func overwriteFields(l *models.Listing, c models.Candidate) {
	l.Trim = takeString(l.Trim, c.Trim)
	l.MSRP = takeInt(l.MSRP, c.MSRP)
	l.Mileage = takeInt(l.Mileage, c.Mileage)
	l.DealerName = takeString(l.DealerName, c.DealerName)
	l.DealerPhone = takeString(l.DealerPhone, c.DealerPhone)
	l.DealerAddress = takeString(l.DealerAddress, c.DealerAddress)
	l.ListingURL = takeString(l.ListingURL, c.ListingURL)
	l.VIN = takeString(l.VIN, c.VIN)
	l.StockNumber = takeString(l.StockNumber, c.StockNumber)
}

// takeString returns a copy of incoming when it carries a value, else old.
// Blank strings count as absent.
func takeString(old, incoming *string) *string {
	if incoming == nil {
		return old
	}
	v := strings.TrimSpace(*incoming)
	if v == "" {
		return old
	}
	return &v
}

func takeInt(old, incoming *int) *int {
	if incoming == nil {
		return old
	}
	v := *incoming
	return &v
}
