package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// HostLimiter paces requests to one listing site: at most maxInFlight at
// a time, and a random pause in [minDelay, maxDelay] between starts. The
// pause is stretched while the site keeps failing (see Observe).
type HostLimiter struct {
	sem      *semaphore.Weighted
	minDelay time.Duration
	maxDelay time.Duration
	pacer    *adaptivePacer

	mu          sync.Mutex
	lastRequest time.Time
	inFlight    int
	rnd         *rand.Rand
}

// NewHostLimiter creates a limiter with the default adaptive pacing.
// maxInFlight below 1 is treated as 1.
func NewHostLimiter(maxInFlight int, minDelay, maxDelay time.Duration) *HostLimiter {
	return NewAdaptiveHostLimiter(maxInFlight, minDelay, maxDelay, DefaultAdaptiveConfig())
}

// NewAdaptiveHostLimiter is NewHostLimiter with explicit pacing settings.
func NewAdaptiveHostLimiter(maxInFlight int, minDelay, maxDelay time.Duration, ada AdaptiveConfig) *HostLimiter {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &HostLimiter{
		sem:      semaphore.NewWeighted(int64(maxInFlight)),
		minDelay: minDelay,
		maxDelay: maxDelay,
		pacer:    newAdaptivePacer(ada),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Acquire waits for a free slot and for the pause since the previous
// request. It returns ctx.Err() if ctx ends first; the slot is not held
// in that case.
func (hl *HostLimiter) Acquire(ctx context.Context) error {
	if err := hl.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	hl.mu.Lock()
	wait := hl.delay() - time.Since(hl.lastRequest)
	// Reserve the start time now so concurrent callers queue behind it.
	hl.lastRequest = time.Now().Add(maxDuration(wait, 0))
	hl.inFlight++
	hl.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			hl.Release()
			return ctx.Err()
		}
	}
	return nil
}

// Release frees the slot taken by Acquire.
func (hl *HostLimiter) Release() {
	hl.mu.Lock()
	hl.inFlight--
	hl.mu.Unlock()
	hl.sem.Release(1)
}

// Observe reports the outcome of a request made under this limiter.
func (hl *HostLimiter) Observe(success bool) {
	hl.pacer.observe(success)
}

// Slowdown returns the factor currently applied to the pause.
func (hl *HostLimiter) Slowdown() float64 {
	return hl.pacer.multiplier()
}

// InFlight returns the number of held slots.
func (hl *HostLimiter) InFlight() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return hl.inFlight
}

// delay picks the next pause. Callers hold hl.mu.
func (hl *HostLimiter) delay() time.Duration {
	d := hl.minDelay
	if spread := hl.maxDelay - hl.minDelay; spread > 0 {
		d += time.Duration(hl.rnd.Int63n(int64(spread) + 1))
	}
	return time.Duration(float64(d) * hl.pacer.multiplier())
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
