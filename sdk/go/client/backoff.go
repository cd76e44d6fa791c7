package client

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ReconnectPolicy decides whether and when the next reconnection attempt runs.
type ReconnectPolicy struct {
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int // 0 = unlimited

	mu  sync.Mutex
	rng *rand.Rand
}

// NewReconnectPolicy builds the policy described by cfg.
func NewReconnectPolicy(cfg Config) *ReconnectPolicy {
	return &ReconnectPolicy{
		Base:        cfg.ReconnectDelay,
		Max:         cfg.MaxReconnectDelay,
		Factor:      cfg.BackoffFactor,
		Jitter:      cfg.Jitter,
		MaxAttempts: cfg.MaxReconnectAttempts,
		rng:         rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}
}

// Delay returns min(Base * Factor^attempt, Max) for a zero-based attempt.
// It is pure and monotonically non-decreasing in attempt.
func (p *ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Jittered adds up to Jitter*delay of random spread to Delay(attempt), never
// exceeding Max.
func (p *ReconnectPolicy) Jittered(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter <= 0 {
		return d
	}

	p.mu.Lock()
	spread := time.Duration(float64(d) * p.Jitter * p.rng.Float64())
	p.mu.Unlock()

	if d+spread > p.Max {
		return p.Max
	}
	return d + spread
}

// Exhausted reports whether attempts already made use up the budget.
func (p *ReconnectPolicy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// AttemptRecord describes a scheduled reconnection attempt.
type AttemptRecord struct {
	Attempt     int
	Delay       time.Duration
	ScheduledAt time.Time
}
