package merge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/models"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func newTestEngine(store Store, step time.Duration) *Engine {
	clock := &stepClock{now: t0, step: step}
	return NewEngineWithConfig(store, EngineConfig{MaxConflictRetries: 3, Clock: clock.Now})
}

func tundra(price *int) models.Candidate {
	return models.Candidate{
		Source:          "carscom",
		SourceListingID: "abc-1",
		Make:            "Toyota",
		Model:           "Tundra",
		Year:            2025,
		Trim:            models.StringPtr("SR5"),
		Price:           price,
		MSRP:            models.IntPtr(52000),
		DealerName:      models.StringPtr("Lakeside Toyota"),
	}
}

func TestMerge_InsertThenUnchanged(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, 0)
	ctx := context.Background()
	c := tundra(models.IntPtr(45000))

	first, outcome, err := engine.Merge(ctx, c)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if outcome != Inserted {
		t.Errorf("first outcome = %v, want %v", outcome, Inserted)
	}
	if first.ID == 0 {
		t.Error("inserted listing has no id")
	}
	if !first.FirstSeen.Equal(t0) || !first.LastSeen.Equal(t0) {
		t.Errorf("first/last seen = %v/%v, want %v", first.FirstSeen, first.LastSeen, t0)
	}
	afterFirst := store.get("carscom", "abc-1")

	for i := 0; i < 3; i++ {
		_, outcome, err = engine.Merge(ctx, c)
		if err != nil {
			t.Fatalf("repeat merge %d: %v", i, err)
		}
		if outcome != UpdatedNoPriceChange {
			t.Errorf("repeat outcome = %v, want %v", outcome, UpdatedNoPriceChange)
		}
	}

	afterRepeat := store.get("carscom", "abc-1")
	afterFirst.Version, afterRepeat.Version = 0, 0
	if !listingsEqual(afterFirst, afterRepeat) {
		t.Errorf("state changed on identical merge:\n got %+v\nwant %+v", afterRepeat, afterFirst)
	}
	if n := len(store.priceChanges()); n != 0 {
		t.Errorf("price changes = %d, want 0", n)
	}
	if store.count() != 1 {
		t.Errorf("listings = %d, want 1", store.count())
	}
}

func TestMerge_PriceChange(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Hour)
	ctx := context.Background()

	inserted, _, err := engine.Merge(ctx, tundra(models.IntPtr(45000)))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, outcome, err := engine.Merge(ctx, tundra(models.IntPtr(43000)))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if outcome != UpdatedWithPriceChange {
		t.Fatalf("outcome = %v, want %v", outcome, UpdatedWithPriceChange)
	}
	if updated.ID != inserted.ID {
		t.Errorf("id = %d, want stable %d", updated.ID, inserted.ID)
	}
	if *updated.Price != 43000 {
		t.Errorf("price = %d, want 43000", *updated.Price)
	}

	changedAt := t0.Add(time.Hour)
	if len(updated.PriceHistory) != 1 {
		t.Fatalf("history len = %d, want 1", len(updated.PriceHistory))
	}
	if p := updated.PriceHistory[0]; p.Price != 45000 || !p.Date.Equal(changedAt) {
		t.Errorf("history[0] = %+v, want {45000 %v}", p, changedAt)
	}

	changes := store.priceChanges()
	if len(changes) != 1 {
		t.Fatalf("price changes = %d, want 1", len(changes))
	}
	ch := changes[0]
	if ch.ListingID != inserted.ID || ch.OldPrice != 45000 || ch.NewPrice != 43000 || !ch.ChangedAt.Equal(changedAt) {
		t.Errorf("change = %+v", ch)
	}
	if !ch.IsDrop() {
		t.Error("IsDrop() = false, want true")
	}
	if !updated.FirstSeen.Equal(t0) {
		t.Errorf("first_seen moved to %v", updated.FirstSeen)
	}
}

func TestMerge_NullPreservingFields(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Minute)
	ctx := context.Background()

	if _, _, err := engine.Merge(ctx, tundra(models.IntPtr(45000))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sparse := models.Candidate{
		Source:          "carscom",
		SourceListingID: "abc-1",
		Make:            "Toyota",
		Model:           "Tundra",
		Year:            2025,
		Trim:            models.StringPtr("  "),
		Mileage:         models.IntPtr(12),
	}
	got, outcome, err := engine.Merge(ctx, sparse)
	if err != nil {
		t.Fatalf("sparse merge: %v", err)
	}
	if outcome != UpdatedNoPriceChange {
		t.Errorf("outcome = %v, want %v", outcome, UpdatedNoPriceChange)
	}
	if got.Trim == nil || *got.Trim != "SR5" {
		t.Errorf("trim = %v, want SR5", got.Trim)
	}
	if got.Price == nil || *got.Price != 45000 {
		t.Errorf("price = %v, want 45000", got.Price)
	}
	if got.MSRP == nil || *got.MSRP != 52000 {
		t.Errorf("msrp = %v, want 52000", got.MSRP)
	}
	if got.DealerName == nil || *got.DealerName != "Lakeside Toyota" {
		t.Errorf("dealer = %v, want Lakeside Toyota", got.DealerName)
	}
	if got.Mileage == nil || *got.Mileage != 12 {
		t.Errorf("mileage = %v, want 12", got.Mileage)
	}
	if !got.LastSeen.Equal(t0.Add(time.Minute)) {
		t.Errorf("last_seen = %v, want %v", got.LastSeen, t0.Add(time.Minute))
	}
}

func TestMerge_NullPriceTransitions(t *testing.T) {
	tests := []struct {
		name      string
		first     *int
		second    *int
		wantPrice *int
	}{
		{"null to null", nil, nil, nil},
		{"null to value", nil, models.IntPtr(41000), models.IntPtr(41000)},
		{"value to null", models.IntPtr(41000), nil, models.IntPtr(41000)},
		{"same value", models.IntPtr(41000), models.IntPtr(41000), models.IntPtr(41000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			engine := newTestEngine(store, time.Minute)
			ctx := context.Background()

			if _, _, err := engine.Merge(ctx, tundra(tt.first)); err != nil {
				t.Fatalf("first merge: %v", err)
			}
			got, outcome, err := engine.Merge(ctx, tundra(tt.second))
			if err != nil {
				t.Fatalf("second merge: %v", err)
			}
			if outcome != UpdatedNoPriceChange {
				t.Errorf("outcome = %v, want %v", outcome, UpdatedNoPriceChange)
			}
			if n := len(store.priceChanges()); n != 0 {
				t.Errorf("price changes = %d, want 0", n)
			}
			if len(got.PriceHistory) != 0 {
				t.Errorf("history = %v, want empty", got.PriceHistory)
			}
			if !intPtrEqual(got.Price, tt.wantPrice) {
				t.Errorf("price = %v, want %v", deref(got.Price), deref(tt.wantPrice))
			}
		})
	}
}

func TestMergeBatch_DuplicateIdentityOutOfOrder(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Second)

	a := models.Candidate{Source: "x", SourceListingID: "1", Make: "Ford", Model: "F-150", Year: 2024, Price: models.IntPtr(51000)}
	b := a
	b.Price = models.IntPtr(49500)

	results, stats := engine.MergeBatch(context.Background(), []models.Candidate{b, a})
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Outcome != Inserted || results[1].Outcome != UpdatedWithPriceChange {
		t.Errorf("outcomes = %v, %v", results[0].Outcome, results[1].Outcome)
	}
	if results[0].ListingID != results[1].ListingID {
		t.Errorf("listing ids differ: %d vs %d", results[0].ListingID, results[1].ListingID)
	}

	got := store.get("x", "1")
	if got.Price == nil || *got.Price != 51000 {
		t.Errorf("final price = %v, want last-applied 51000", deref(got.Price))
	}
	changes := store.priceChanges()
	if len(changes) != 1 {
		t.Fatalf("price changes = %d, want 1", len(changes))
	}
	if changes[0].OldPrice != 49500 || changes[0].NewPrice != 51000 {
		t.Errorf("change = %+v", changes[0])
	}

	want := Stats{Inserted: 1, PriceChanges: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestMergeBatch_KeepsGoingAfterRejection(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Second)

	good := tundra(models.IntPtr(45000))
	noID := good
	noID.SourceListingID = ""
	noYear := good
	noYear.SourceListingID = "abc-2"
	noYear.Year = 0

	results, stats := engine.MergeBatch(context.Background(), []models.Candidate{noID, good, noYear, good})

	if stats.Rejected != 2 || stats.Inserted != 1 || stats.Unchanged != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Total() != 4 {
		t.Errorf("total = %d, want 4", stats.Total())
	}
	if !errors.Is(results[0].Err, ErrMalformedCandidate) || !errors.Is(results[0].Err, identity.ErrMissingIdentity) {
		t.Errorf("results[0].Err = %v", results[0].Err)
	}
	if !errors.Is(results[2].Err, identity.ErrMissingField) {
		t.Errorf("results[2].Err = %v", results[2].Err)
	}
	if results[0].Identity != (identity.Identity{}) {
		t.Errorf("results[0].Identity = %v, want zero for an unresolvable candidate", results[0].Identity)
	}
	if results[2].Identity.SourceListingID != "abc-2" {
		t.Errorf("results[2].Identity = %v, want resolved despite the missing year", results[2].Identity)
	}
	if store.count() != 1 {
		t.Errorf("listings = %d, want 1", store.count())
	}
}

func TestMergeBatch_CancelledContext(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, stats := engine.MergeBatch(ctx, []models.Candidate{tundra(models.IntPtr(1))})
	if len(results) != 0 || stats.Total() != 0 {
		t.Errorf("results = %d, stats = %+v; want nothing applied", len(results), stats)
	}
	if store.count() != 0 {
		t.Errorf("listings = %d, want 0", store.count())
	}
}

func TestMerge_MalformedCandidateWritesNothing(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, 0)

	c := tundra(models.IntPtr(45000))
	c.Make = ""
	_, _, err := engine.Merge(context.Background(), c)
	if !errors.Is(err, ErrMalformedCandidate) {
		t.Fatalf("err = %v, want ErrMalformedCandidate", err)
	}
	if store.count() != 0 {
		t.Errorf("listings = %d, want 0", store.count())
	}
}

func TestMerge_EventAppendFailureRollsBack(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Minute)
	ctx := context.Background()

	if _, _, err := engine.Merge(ctx, tundra(models.IntPtr(45000))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	store.failAppend = errors.New("disk full")
	_, _, err := engine.Merge(ctx, tundra(models.IntPtr(43000)))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}

	got := store.get("carscom", "abc-1")
	if *got.Price != 45000 || len(got.PriceHistory) != 0 {
		t.Errorf("listing mutated despite failed event: price=%d history=%v", *got.Price, got.PriceHistory)
	}

	// Retrying the same candidate once the store recovers applies it once.
	store.failAppend = nil
	_, outcome, err := engine.Merge(ctx, tundra(models.IntPtr(43000)))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if outcome != UpdatedWithPriceChange {
		t.Errorf("retry outcome = %v", outcome)
	}
	if n := len(store.priceChanges()); n != 1 {
		t.Errorf("price changes = %d, want 1", n)
	}
}

func TestMerge_StoreReadFailure(t *testing.T) {
	store := newMemStore()
	store.failFind = errors.New("connection refused")
	engine := newTestEngine(store, 0)

	_, _, err := engine.Merge(context.Background(), tundra(nil))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestMerge_RetriesOnConflict(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Minute)
	ctx := context.Background()

	if _, _, err := engine.Merge(ctx, tundra(models.IntPtr(45000))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	store.conflictsLeft = 2
	got, outcome, err := engine.Merge(ctx, tundra(models.IntPtr(43000)))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if outcome != UpdatedWithPriceChange || *got.Price != 43000 {
		t.Errorf("outcome = %v price = %d", outcome, *got.Price)
	}
	if n := len(store.priceChanges()); n != 1 {
		t.Errorf("price changes = %d, want exactly 1", n)
	}
}

func TestMerge_ConflictRetriesExhausted(t *testing.T) {
	store := newMemStore()
	clock := &stepClock{now: t0, step: time.Minute}
	engine := NewEngineWithConfig(store, EngineConfig{MaxConflictRetries: 2, Clock: clock.Now})
	ctx := context.Background()

	if _, _, err := engine.Merge(ctx, tundra(models.IntPtr(45000))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	store.conflictsLeft = 10
	_, _, err := engine.Merge(ctx, tundra(models.IntPtr(43000)))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if store.conflictsLeft != 7 {
		t.Errorf("attempts = %d, want 3", 10-store.conflictsLeft)
	}
	if got := store.get("carscom", "abc-1"); *got.Price != 45000 {
		t.Errorf("price = %d, want unchanged 45000", *got.Price)
	}
}

func TestMerge_ConcurrentSameIdentity(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, time.Second)
	ctx := context.Background()

	const n = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make(map[Outcome]int)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcome, err := engine.Merge(ctx, tundra(models.IntPtr(40000+(i%2)*1000)))
			if err != nil {
				t.Errorf("merge %d: %v", i, err)
				return
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if outcomes[Inserted] != 1 {
		t.Errorf("inserted = %d, want 1", outcomes[Inserted])
	}
	got := store.get("carscom", "abc-1")
	changes := store.priceChanges()
	if len(changes) != outcomes[UpdatedWithPriceChange] {
		t.Errorf("events = %d, price-change outcomes = %d", len(changes), outcomes[UpdatedWithPriceChange])
	}
	if len(got.PriceHistory) != len(changes) {
		t.Errorf("history = %d, events = %d", len(got.PriceHistory), len(changes))
	}
	for i := 1; i < len(changes); i++ {
		if changes[i].ChangedAt.Before(changes[i-1].ChangedAt) {
			t.Errorf("event %d at %v precedes event %d at %v", i, changes[i].ChangedAt, i-1, changes[i-1].ChangedAt)
		}
		if changes[i].OldPrice != changes[i-1].NewPrice {
			t.Errorf("event %d old=%d does not chain from new=%d", i, changes[i].OldPrice, changes[i-1].NewPrice)
		}
	}
	if engine.locks.size() != 0 {
		t.Errorf("lock table size = %d after all merges, want 0", engine.locks.size())
	}
}

func TestMerge_ClockStepBackKeepsTimestampsMonotonic(t *testing.T) {
	store := newMemStore()
	clock := &stepClock{now: t0, step: -time.Hour}
	engine := NewEngineWithConfig(store, EngineConfig{Clock: clock.Now})
	ctx := context.Background()

	if _, _, err := engine.Merge(ctx, tundra(models.IntPtr(45000))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, _, err := engine.Merge(ctx, tundra(models.IntPtr(44000)))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.LastSeen.Before(t0) {
		t.Errorf("last_seen = %v went backwards from %v", got.LastSeen, t0)
	}
	if ch := store.priceChanges()[0]; ch.ChangedAt.Before(t0) {
		t.Errorf("changed_at = %v before insert time %v", ch.ChangedAt, t0)
	}
}

func TestOutcomeString(t *testing.T) {
	tests := map[Outcome]string{
		Inserted:               "inserted",
		UpdatedWithPriceChange: "price_changed",
		UpdatedNoPriceChange:   "unchanged",
		Outcome(0):             "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}

func listingsEqual(a, b *models.Listing) bool {
	if a.ID != b.ID || a.Source != b.Source || a.SourceListingID != b.SourceListingID ||
		a.Make != b.Make || a.Model != b.Model || a.Year != b.Year || a.Version != b.Version {
		return false
	}
	if !a.FirstSeen.Equal(b.FirstSeen) || !a.LastSeen.Equal(b.LastSeen) {
		return false
	}
	if len(a.PriceHistory) != len(b.PriceHistory) {
		return false
	}
	for i := range a.PriceHistory {
		if a.PriceHistory[i].Price != b.PriceHistory[i].Price || !a.PriceHistory[i].Date.Equal(b.PriceHistory[i].Date) {
			return false
		}
	}
	return intPtrEqual(a.Price, b.Price) && intPtrEqual(a.MSRP, b.MSRP) && intPtrEqual(a.Mileage, b.Mileage) &&
		strPtrEqual(a.Trim, b.Trim) && strPtrEqual(a.DealerName, b.DealerName) &&
		strPtrEqual(a.DealerPhone, b.DealerPhone) && strPtrEqual(a.DealerAddress, b.DealerAddress) &&
		strPtrEqual(a.ListingURL, b.ListingURL) && strPtrEqual(a.VIN, b.VIN) && strPtrEqual(a.StockNumber, b.StockNumber)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
