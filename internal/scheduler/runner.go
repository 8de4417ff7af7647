package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vehicle-deal-tracker/internal/config"
	"vehicle-deal-tracker/internal/fetch"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
)

// ErrRunInProgress is returned when a scrape run is requested while
// another one is still going.
var ErrRunInProgress = errors.New("scrape run already in progress")

// Store is what a scrape run reads and writes besides the merge engine's
// own transactions.
type Store interface {
	ListingsByIDs(ctx context.Context, ids []uint) ([]models.Listing, error)
	GetSourceState(ctx context.Context, source string) (*models.SourceState, error)
	SaveSourceState(ctx context.Context, st *models.SourceState) error
	CreateScrapeRun(ctx context.Context, run *models.ScrapeRun) error
	SaveScrapeRun(ctx context.Context, run *models.ScrapeRun) error
}

// Indexer receives every listing written during a run.
type Indexer interface {
	IndexListings(ctx context.Context, listings []models.Listing) error
}

// Runner fetches every configured vehicle from every enabled source and
// merges the candidates into the store.
type Runner struct {
	store    Store
	engine   *merge.Engine
	fetchers []fetch.Fetcher
	indexer  Indexer
	config   *config.Config
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner. indexer may be nil.
func NewRunner(store Store, engine *merge.Engine, fetchers []fetch.Fetcher, indexer Indexer, cfg *config.Config) *Runner {
	return &Runner{
		store:    store,
		engine:   engine,
		fetchers: fetchers,
		indexer:  indexer,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// sourceResult is the outcome of one source across all vehicles.
type sourceResult struct {
	fetched int
	errs    []error
}

// Run performs one scrape run and returns its record. If ctx is cancelled
// the run stops dispatching; merges already applied stay committed and the
// partial record is still saved.
func (r *Runner) Run(ctx context.Context, trigger string) (*models.ScrapeRun, error) {
	if !r.begin() {
		return nil, ErrRunInProgress
	}
	defer r.end()
	return r.run(ctx, trigger)
}

// RunAsync starts a run in the background and returns its ID at once.
func (r *Runner) RunAsync(ctx context.Context, trigger string) (string, error) {
	if !r.begin() {
		return "", ErrRunInProgress
	}
	runID := uuid.NewString()
	go func() {
		defer r.end()
		if _, err := r.runWithID(ctx, trigger, runID); err != nil {
			log.Printf("Runner: run %s failed: %v", runID, err)
		}
	}()
	return runID, nil
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

func (r *Runner) run(ctx context.Context, trigger string) (*models.ScrapeRun, error) {
	return r.runWithID(ctx, trigger, uuid.NewString())
}

func (r *Runner) runWithID(ctx context.Context, trigger, runID string) (*models.ScrapeRun, error) {
	// Bookkeeping writes must land even when the run itself is abandoned.
	bg := context.WithoutCancel(ctx)

	run := &models.ScrapeRun{RunID: runID, Trigger: trigger, StartedAt: r.now()}
	if err := r.store.CreateScrapeRun(bg, run); err != nil {
		return nil, fmt.Errorf("failed to record scrape run: %w", err)
	}
	log.Printf("Runner: run %s started (trigger=%s, %d sources, %d vehicles)",
		runID, trigger, len(r.fetchers), len(r.config.Vehicles))

	pool := newMergePool(ctx, r.engine, r.config.Merge.Workers)
	results, candidates := r.fetchAll(ctx, pool)
	stats, touched := pool.close()

	r.updateSourceStates(bg, results)
	r.reindex(bg, touched)

	finished := r.now()
	run.FinishedAt = &finished
	run.Candidates = candidates
	run.Inserted = stats.Inserted
	run.PriceChanges = stats.PriceChanges
	run.Unchanged = stats.Unchanged
	run.Rejected = stats.Rejected
	run.Failed = stats.Failed
	run.SourceErrors = summarizeErrors(results)
	if err := r.store.SaveScrapeRun(bg, run); err != nil {
		log.Printf("Runner: failed to save run %s: %v", runID, err)
	}

	log.Printf("Runner: run %s finished in %v. Candidates: %d, Inserted: %d, Price changes: %d, Unchanged: %d, Rejected: %d, Failed: %d",
		runID, finished.Sub(run.StartedAt).Round(time.Millisecond), candidates,
		stats.Inserted, stats.PriceChanges, stats.Unchanged, stats.Rejected, stats.Failed)

	return run, ctx.Err()
}

// fetchAll runs the enabled, unblocked fetchers concurrently and feeds
// their candidates to the pool. A failing source never stops the others.
func (r *Runner) fetchAll(ctx context.Context, pool *mergePool) (map[string]*sourceResult, int) {
	var (
		mu         sync.Mutex
		results    = make(map[string]*sourceResult)
		candidates int
	)

	g, gctx := errgroup.WithContext(ctx)
	if limit := r.config.Scraper.ConcurrentLimit; limit > 0 {
		g.SetLimit(limit)
	}

	for _, f := range r.fetchers {
		f := f
		if !r.sourceAllowed(ctx, f.Source()) {
			continue
		}

		res := &sourceResult{}
		results[f.Source()] = res

		g.Go(func() error {
			for _, v := range r.config.Vehicles {
				cands, err := f.Fetch(gctx, v)

				mu.Lock()
				res.fetched += len(cands)
				candidates += len(cands)
				if err != nil && !errors.Is(err, context.Canceled) {
					res.errs = append(res.errs, fmt.Errorf("%s: %w", v, err))
				}
				mu.Unlock()

				// Partial results are still merged.
				for _, c := range cands {
					if err := pool.submit(gctx, c); err != nil {
						return err
					}
				}

				if err != nil {
					log.Printf("Runner: %s failed for %s: %v", f.Source(), v, err)
					if errors.Is(err, fetch.ErrBlocked) || errors.Is(err, fetch.ErrCircuitOpen) {
						return nil
					}
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("Runner: fetch abandoned: %v", err)
	}
	return results, candidates
}

// sourceAllowed checks the persisted blocking state of a source.
func (r *Runner) sourceAllowed(ctx context.Context, source string) bool {
	st, err := r.store.GetSourceState(ctx, source)
	if err != nil {
		log.Printf("Runner: failed to read state of %s, fetching anyway: %v", source, err)
		return true
	}
	if !st.CanFetch(r.now()) {
		log.Printf("Runner: skipping %s, blocked until %v (%s)", source, st.BlockedUntil, st.BlockedReason)
		return false
	}
	return true
}

// updateSourceStates records each attempted source's outcome and blocks
// sources that keep failing.
func (r *Runner) updateSourceStates(ctx context.Context, results map[string]*sourceResult) {
	now := r.now()
	for source, res := range results {
		st, err := r.store.GetSourceState(ctx, source)
		if err != nil {
			log.Printf("Runner: failed to read state of %s: %v", source, err)
			continue
		}

		if len(res.errs) == 0 {
			st.RecordSuccess(res.fetched, now)
		} else {
			st.RecordFailure(now)
			if limit := r.config.Scraper.BlockAfterFailures; limit > 0 && st.FailureCount >= limit {
				cooldown := r.config.Scraper.GetBlockCooldown()
				st.SetBlocked(fmt.Sprintf("%d consecutive failed runs: %v", st.FailureCount, res.errs[0]), cooldown, now)
				log.Printf("Runner: blocking %s for %v", source, cooldown)
			}
		}

		if err := r.store.SaveSourceState(ctx, st); err != nil {
			log.Printf("Runner: failed to save state of %s: %v", source, err)
		}
	}
}

func (r *Runner) reindex(ctx context.Context, ids []uint) {
	if r.indexer == nil || len(ids) == 0 {
		return
	}
	listings, err := r.store.ListingsByIDs(ctx, ids)
	if err != nil {
		log.Printf("Runner: failed to load listings for indexing: %v", err)
		return
	}
	if err := r.indexer.IndexListings(ctx, listings); err != nil {
		log.Printf("Runner: failed to index %d listings: %v", len(listings), err)
		return
	}
	log.Printf("Runner: indexed %d listings", len(listings))
}

// summarizeErrors renders per-source errors as "source: err; ..." in
// source order.
func summarizeErrors(results map[string]*sourceResult) string {
	sources := make([]string, 0, len(results))
	for s := range results {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var parts []string
	for _, s := range sources {
		for _, err := range results[s].errs {
			parts = append(parts, s+": "+err.Error())
		}
	}
	return strings.Join(parts, "; ")
}
