package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RetryPolicy is a bounded retry loop. Backoff[i] is the pause before
// attempt i+2; the last entry is reused when attempts outnumber it.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration

	// Retryable decides whether err is worth another attempt. Nil means
	// IsRetryable.
	Retryable func(err error) bool
}

// DefaultRetryPolicy waits 2*base, 3*base, ... between attempts.
func DefaultRetryPolicy(maxAttempts int, base time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := make([]time.Duration, 0, maxAttempts)
	for i := 1; i < maxAttempts; i++ {
		backoff = append(backoff, time.Duration(i+1)*base)
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff}
}

// Do calls op until it succeeds, returns a non-retryable error, the
// attempts run out or ctx ends. op receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.backoff(attempt - 2))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = op(attempt)
		if err == nil || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (p RetryPolicy) backoff(i int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if i >= len(p.Backoff) {
		i = len(p.Backoff) - 1
	}
	return p.Backoff[i]
}

// IsRetryable retries network errors (timeouts included), 429 and 5xx.
// Blocks, open breakers, other 4xx and cancellation are final.
func IsRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrBlocked), errors.Is(err, ErrCircuitOpen):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}
