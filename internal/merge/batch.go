package merge

import (
	"context"
	"errors"
	"log"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/models"
)

// Result is the per-candidate report of a batch merge.
type Result struct {
	Index     int
	Identity  identity.Identity
	ListingID uint
	Outcome   Outcome
	Err       error
}

// Stats counts batch results by outcome.
type Stats struct {
	Inserted     int `json:"inserted"`
	PriceChanges int `json:"price_changes"`
	Unchanged    int `json:"unchanged"`
	Rejected     int `json:"rejected"`
	Failed       int `json:"failed"`
}

// Record adds one merge result to the counters.
func (s *Stats) Record(outcome Outcome, err error) {
	switch {
	case err != nil && errors.Is(err, ErrMalformedCandidate):
		s.Rejected++
	case err != nil:
		s.Failed++
	case outcome == Inserted:
		s.Inserted++
	case outcome == UpdatedWithPriceChange:
		s.PriceChanges++
	default:
		s.Unchanged++
	}
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.Inserted += other.Inserted
	s.PriceChanges += other.PriceChanges
	s.Unchanged += other.Unchanged
	s.Rejected += other.Rejected
	s.Failed += other.Failed
}

// Total is the number of candidates seen.
func (s Stats) Total() int {
	return s.Inserted + s.PriceChanges + s.Unchanged + s.Rejected + s.Failed
}

// MergeBatch merges candidates one by one in slice order. A rejected or
// failed candidate does not stop the batch; a cancelled context does, and
// merges already applied stay committed.
func (e *Engine) MergeBatch(ctx context.Context, candidates []models.Candidate) ([]Result, Stats) {
	var stats Stats
	results := make([]Result, 0, len(candidates))

	for i, c := range candidates {
		if ctx.Err() != nil {
			log.Printf("MergeEngine: batch abandoned after %d/%d candidates: %v", i, len(candidates), ctx.Err())
			break
		}

		res := Result{Index: i}
		// Merge reports unresolvable candidates as malformed; the identity
		// is only for logging and the caller's report.
		if id, err := identity.Resolve(c); err == nil {
			res.Identity = id
		}

		listing, outcome, err := e.Merge(ctx, c)
		res.Outcome, res.Err = outcome, err
		if listing != nil {
			res.ListingID = listing.ID
		}
		if err != nil && !errors.Is(err, ErrMalformedCandidate) {
			log.Printf("MergeEngine: failed to merge %s: %v", res.Identity, err)
		}

		stats.Record(outcome, err)
		results = append(results, res)
	}

	return results, stats
}
