package retry

import (
	"math"
	"time"
)

// Policy controls how a single logical call is attempted.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	JitterPercent float64
	// MinDelay floors every inter-attempt delay so jitter never produces
	// back-to-back attempts.
	MinDelay time.Duration
	// Timeout bounds each attempt.
	Timeout time.Duration
}

// DefaultPolicy returns 3 attempts with delays doubling from 1s to 30s,
// ±10% jitter and a 30s attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		Multiplier:    2,
		JitterPercent: 20,
		MinDelay:      100 * time.Millisecond,
		Timeout:       30 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultPolicy.
func (p *Policy) ApplyDefaults() {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.JitterPercent < 0 {
		p.JitterPercent = 0
	}
	if p.MinDelay <= 0 {
		p.MinDelay = d.MinDelay
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
}

// Delay returns the wait after the given failed attempt (1-based):
// min(InitialDelay*Multiplier^(attempt-1), MaxDelay), shifted by
// jitter*JitterPercent/2 percent, capped at MaxDelay and floored at MinDelay.
// jitter must lie in [-1, 1].
func (p Policy) Delay(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if base > float64(p.MaxDelay) || math.IsInf(base, 1) {
		base = float64(p.MaxDelay)
	}
	d := base + base*(p.JitterPercent/200)*jitter
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < float64(p.MinDelay) {
		d = float64(p.MinDelay)
	}
	return time.Duration(d)
}
