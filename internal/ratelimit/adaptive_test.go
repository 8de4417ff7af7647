package ratelimit

import (
	"testing"
	"time"
)

func newTestPacer() (*adaptivePacer, *time.Time) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	p := newAdaptivePacer(AdaptiveConfig{
		Window:          10,
		MinSamples:      4,
		SlowFactor:      4,
		Cooldown:        10 * time.Minute,
		RampMinInterval: 5 * time.Minute,
	})
	p.now = func() time.Time { return now }
	return p, &now
}

func observeN(p *adaptivePacer, success bool, n int) {
	for i := 0; i < n; i++ {
		p.observe(success)
	}
}

func TestAdaptivePacer_NeedsMinSamples(t *testing.T) {
	p, _ := newTestPacer()
	observeN(p, false, 3)
	if got := p.multiplier(); got != 1 {
		t.Errorf("multiplier after 3 failures = %v, want 1 (below MinSamples)", got)
	}
	p.observe(false)
	if got := p.multiplier(); got != 4 {
		t.Errorf("multiplier after 4 failures = %v, want 4", got)
	}
}

func TestAdaptivePacer_CooldownAndRamp(t *testing.T) {
	p, now := newTestPacer()
	observeN(p, true, 8)
	observeN(p, false, 2) // 20% failures
	if got := p.multiplier(); got != 4 {
		t.Fatalf("multiplier = %v, want 4", got)
	}

	// Push failures out of the window while still cooling down.
	observeN(p, true, 10)
	if got := p.multiplier(); got != 4 {
		t.Errorf("multiplier during cooldown = %v, want 4", got)
	}

	*now = now.Add(10 * time.Minute)
	p.observe(true)
	if got := p.multiplier(); got != 2 {
		t.Errorf("multiplier after cooldown = %v, want 2", got)
	}

	// Too soon for another step.
	*now = now.Add(time.Minute)
	p.observe(true)
	if got := p.multiplier(); got != 2 {
		t.Errorf("multiplier before ramp interval = %v, want 2", got)
	}

	*now = now.Add(5 * time.Minute)
	p.observe(true)
	if got := p.multiplier(); got != 1 {
		t.Errorf("multiplier after second ramp = %v, want 1", got)
	}
}

func TestHostLimiter_ObserveStretchesDelay(t *testing.T) {
	hl := NewAdaptiveHostLimiter(1, 10*time.Millisecond, 10*time.Millisecond, AdaptiveConfig{MinSamples: 2, SlowFactor: 3})
	if got := hl.Slowdown(); got != 1 {
		t.Fatalf("initial Slowdown = %v, want 1", got)
	}
	hl.Observe(false)
	hl.Observe(false)
	if got := hl.Slowdown(); got != 3 {
		t.Errorf("Slowdown = %v, want 3", got)
	}

	hl.mu.Lock()
	d := hl.delay()
	hl.mu.Unlock()
	if d != 30*time.Millisecond {
		t.Errorf("delay = %v, want 30ms", d)
	}
}
