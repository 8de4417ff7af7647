package fetch

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// CircuitBreaker stops hammering a source that keeps failing. It opens
// after threshold consecutive failures, or after two consecutive
// 403/429/500 answers, and lets one probe through once resetTimeout has
// passed since the last failure.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	failures            int
	totalRequests       int
	consecutiveFailures int
	isOpen              bool
	lastFailureTime     time.Time

	mutex sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalRequests++
	cb.consecutiveFailures = 0
}

// RecordFailure records a failed request. statusCode is 0 for transport
// errors.
func (cb *CircuitBreaker) RecordFailure(statusCode int) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.consecutiveFailures++
	cb.totalRequests++
	cb.lastFailureTime = cb.now()

	if cb.isOpen {
		return
	}

	if cb.consecutiveFailures >= 2 && isBlockStatus(statusCode) {
		cb.isOpen = true
		log.Printf("CircuitBreaker: OPEN after %d consecutive %d answers, retry after %v",
			cb.consecutiveFailures, statusCode, cb.resetTimeout)
		return
	}

	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.isOpen = true
		log.Printf("CircuitBreaker: OPEN after %d consecutive failures, retry after %v",
			cb.consecutiveFailures, cb.resetTimeout)
	}
}

func isBlockStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusTooManyRequests || code == http.StatusInternalServerError
}

// Allow returns ErrCircuitOpen while the breaker is open. Once the reset
// timeout has passed it half-opens: counters reset and requests flow until
// the next trip.
func (cb *CircuitBreaker) Allow() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.isOpen {
		return nil
	}

	if cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
		log.Printf("CircuitBreaker: half-open after %v", cb.resetTimeout)
		cb.isOpen = false
		cb.failures = 0
		cb.totalRequests = 0
		cb.consecutiveFailures = 0
		return nil
	}

	return fmt.Errorf("%w: %d consecutive failures", ErrCircuitOpen, cb.consecutiveFailures)
}

// GetStatus returns current circuit breaker status
func (cb *CircuitBreaker) GetStatus() (isOpen bool, failures int, total int) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.isOpen, cb.failures, cb.totalRequests
}
