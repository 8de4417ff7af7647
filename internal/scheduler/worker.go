package scheduler

import (
	"context"
	"hash/fnv"
	"log"
	"sync"

	"vehicle-deal-tracker/internal/identity"
	"vehicle-deal-tracker/internal/merge"
	"vehicle-deal-tracker/internal/models"
)

// mergePool applies candidates with a fixed number of workers. Each
// identity hashes to one partition, so its candidates are merged by one
// worker in the order they were submitted while other identities proceed
// in parallel.
type mergePool struct {
	engine     *merge.Engine
	partitions []chan models.Candidate
	wg         sync.WaitGroup

	mu      sync.Mutex
	stats   merge.Stats
	touched map[uint]struct{}
}

func newMergePool(ctx context.Context, engine *merge.Engine, workers int) *mergePool {
	if workers < 1 {
		workers = 1
	}
	p := &mergePool{
		engine:     engine,
		partitions: make([]chan models.Candidate, workers),
		touched:    make(map[uint]struct{}),
	}
	for i := range p.partitions {
		p.partitions[i] = make(chan models.Candidate, 64)
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	return p
}

func (p *mergePool) work(ctx context.Context, n int) {
	defer p.wg.Done()

	var stats merge.Stats
	for c := range p.partitions[n] {
		// Drain after cancellation so senders never block.
		if ctx.Err() != nil {
			continue
		}
		listing, outcome, err := p.engine.Merge(ctx, c)
		stats.Record(outcome, err)
		if err != nil {
			log.Printf("MergeWorker %d: %s/%s: %v", n, c.Source, c.SourceListingID, err)
			continue
		}
		p.mu.Lock()
		p.touched[listing.ID] = struct{}{}
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.stats.Add(stats)
	p.mu.Unlock()
}

// submit queues c on its identity's partition. It returns ctx.Err() if
// the run is abandoned first.
func (p *mergePool) submit(ctx context.Context, c models.Candidate) error {
	select {
	case p.partitions[p.partition(c)] <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// partition picks the worker for c. Candidates without an identity are
// rejected by the engine wherever they land.
func (p *mergePool) partition(c models.Candidate) int {
	id, err := identity.Resolve(c)
	if err != nil {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(id.String()))
	return int(h.Sum32() % uint32(len(p.partitions)))
}

// close stops intake and waits for the workers. The returned IDs are the
// listings written during the run.
func (p *mergePool) close() (merge.Stats, []uint) {
	for _, ch := range p.partitions {
		close(ch)
	}
	p.wg.Wait()

	ids := make([]uint, 0, len(p.touched))
	for id := range p.touched {
		ids = append(ids, id)
	}
	return p.stats, ids
}
