package fetch

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(threshold, reset)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.RecordFailure(0)
	cb.RecordFailure(0)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after 2 failures = %v", err)
	}
	cb.RecordFailure(0)
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() after 3 failures = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)

	cb.RecordFailure(0)
	cb.RecordSuccess()
	cb.RecordFailure(0)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() = %v, want nil", err)
	}
	_, failures, total := cb.GetStatus()
	if failures != 2 || total != 3 {
		t.Errorf("GetStatus() failures=%d total=%d, want 2, 3", failures, total)
	}
}

func TestCircuitBreaker_BlockStatusesTripEarly(t *testing.T) {
	cb, _ := newTestBreaker(10, time.Minute)

	cb.RecordFailure(http.StatusForbidden)
	cb.RecordFailure(http.StatusTooManyRequests)
	if isOpen, _, _ := cb.GetStatus(); !isOpen {
		t.Error("breaker should open after two consecutive block statuses")
	}
}

func TestCircuitBreaker_HalfOpensAfterReset(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure(0)
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() = nil, want open")
	}

	*now = now.Add(30 * time.Second)
	if err := cb.Allow(); err == nil {
		t.Fatal("Allow() before reset = nil, want open")
	}

	*now = now.Add(31 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after reset = %v, want nil", err)
	}
	if isOpen, failures, _ := cb.GetStatus(); isOpen || failures != 0 {
		t.Errorf("GetStatus() isOpen=%v failures=%d after half-open", isOpen, failures)
	}
}
