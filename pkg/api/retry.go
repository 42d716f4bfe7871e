package api

import (
	"math"
	"time"
)

// BackoffPolicy computes the delay before a retry:
//
//	delay(n) = min(Max, Base * Multiplier^(n-1) * (1 + Jitter*r))
//
// where n is the 1-based retry number and r is uniform in [0, 1). As long as
// Multiplier > 1+Jitter, successive uncapped delays strictly increase.
//
// A zero Jitter means the default spread; use NoJitter for fixed delays.
type BackoffPolicy struct {
	Base       Duration `json:"base,omitempty" yaml:"base,omitempty"`
	Max        Duration `json:"max,omitempty" yaml:"max,omitempty"`
	Multiplier float64  `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Jitter     float64  `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// DefaultBackoff is used when neither engine nor task configure one.
var DefaultBackoff = BackoffPolicy{
	Base:       Duration(500 * time.Millisecond),
	Max:        Duration(time.Minute),
	Multiplier: 2,
	Jitter:     0.2,
}

// NoJitter disables the random spread of a BackoffPolicy.
const NoJitter = -1.0

// Normalize fills zero fields from DefaultBackoff and clamps the jitter so
// the strictly-increasing property holds.
func (p BackoffPolicy) Normalize() BackoffPolicy {
	if p.Base <= 0 {
		p.Base = DefaultBackoff.Base
	}
	if p.Max <= 0 {
		p.Max = DefaultBackoff.Max
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultBackoff.Multiplier
	}
	switch {
	case p.Jitter == 0:
		p.Jitter = DefaultBackoff.Jitter
	case p.Jitter < 0:
		p.Jitter = NoJitter
	}
	if p.Jitter >= p.Multiplier-1 {
		p.Jitter = (p.Multiplier - 1) / 2
	}
	return p
}

// Delay returns the delay before retry n (1-based). rnd must be in [0, 1).
func (p BackoffPolicy) Delay(n int, rnd float64) time.Duration {
	p = p.Normalize()
	if n < 1 {
		n = 1
	}
	if rnd < 0 || rnd >= 1 {
		rnd = 0
	}
	jitter := max(p.Jitter, 0)
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(n-1)) * (1 + jitter*rnd)
	if d >= float64(p.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.Max.Std()
	}
	return time.Duration(d)
}
