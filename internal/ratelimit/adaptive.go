package ratelimit

import (
	"log"
	"sync"
	"time"
)

// AdaptiveConfig controls how a HostLimiter stretches its pauses when a
// host starts failing.
type AdaptiveConfig struct {
	Window           int     // outcomes kept, 20
	MinSamples       int     // outcomes needed before judging, 5
	SlowThreshold    float64 // failure rate that enters slow mode, 0.20
	RecoverThreshold float64 // failure rate that allows ramping back, 0.10
	SlowFactor       float64 // delay multiplier in slow mode, 4

	Cooldown        time.Duration // time held at SlowFactor, 10m
	RampMinInterval time.Duration // time between halvings of the factor, 5m
}

// DefaultAdaptiveConfig returns the pacing defaults.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Window:           20,
		MinSamples:       5,
		SlowThreshold:    0.20,
		RecoverThreshold: 0.10,
		SlowFactor:       4,
		Cooldown:         10 * time.Minute,
		RampMinInterval:  5 * time.Minute,
	}
}

// adaptivePacer turns a ring of recent request outcomes into a delay
// multiplier: SlowFactor while cooling down, then halved back towards 1
// as long as the host stays healthy.
type adaptivePacer struct {
	mu  sync.Mutex
	cfg AdaptiveConfig
	now func() time.Time

	// ring of outcomes (true=success)
	results []bool
	idx     int
	filled  bool

	factor     float64
	slowUntil  time.Time
	nextRampAt time.Time
}

func newAdaptivePacer(cfg AdaptiveConfig) *adaptivePacer {
	def := DefaultAdaptiveConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = def.SlowThreshold
	}
	if cfg.RecoverThreshold <= 0 {
		cfg.RecoverThreshold = def.RecoverThreshold
	}
	if cfg.SlowFactor < 1 {
		cfg.SlowFactor = def.SlowFactor
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.RampMinInterval <= 0 {
		cfg.RampMinInterval = def.RampMinInterval
	}

	return &adaptivePacer{
		cfg:     cfg,
		now:     time.Now,
		results: make([]bool, cfg.Window),
		factor:  1,
	}
}

// observe records the outcome of one request.
func (p *adaptivePacer) observe(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.results[p.idx] = success
	p.idx++
	if p.idx >= len(p.results) {
		p.idx = 0
		p.filled = true
	}

	if p.samplesLocked() < p.cfg.MinSamples {
		return
	}

	failRate := p.failureRateLocked()
	now := p.now()

	if failRate >= p.cfg.SlowThreshold {
		if p.factor < p.cfg.SlowFactor {
			log.Printf("[HostLimiter] Entering slow mode: failRate=%.2f threshold=%.2f cooldown=%v",
				failRate, p.cfg.SlowThreshold, p.cfg.Cooldown)
		}
		p.factor = p.cfg.SlowFactor
		p.slowUntil = now.Add(p.cfg.Cooldown)
		p.nextRampAt = p.slowUntil
		return
	}

	// during cooldown do nothing
	if now.Before(p.slowUntil) {
		return
	}

	if p.factor > 1 && failRate <= p.cfg.RecoverThreshold && !now.Before(p.nextRampAt) {
		old := p.factor
		p.factor /= 2
		if p.factor < 1 {
			p.factor = 1
		}
		p.nextRampAt = now.Add(p.cfg.RampMinInterval)
		log.Printf("[HostLimiter] Ramping up: delay x%.1f -> x%.1f (failRate=%.2f)", old, p.factor, failRate)
	}
}

// multiplier returns the current delay factor, >= 1.
func (p *adaptivePacer) multiplier() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.factor
}

func (p *adaptivePacer) samplesLocked() int {
	if p.filled {
		return len(p.results)
	}
	return p.idx
}

func (p *adaptivePacer) failureRateLocked() float64 {
	n := p.samplesLocked()
	if n == 0 {
		return 0
	}
	fail := 0
	for i := 0; i < n; i++ {
		if !p.results[i] {
			fail++
		}
	}
	return float64(fail) / float64(n)
}
