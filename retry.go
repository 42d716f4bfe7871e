package taskgraph

import (
	"time"

	"github.com/petrijr/taskgraph/pkg/api"
)

// BackoffBuilder provides a fluent way to construct BackoffPolicy values
// for use with Retries or WithBackoff.
type BackoffBuilder struct {
	policy api.BackoffPolicy
}

// Backoff starts a policy whose first retry waits base. Unset fields fall
// back to the engine defaults (x2 growth, 1m cap, 0.2 jitter).
func Backoff(base time.Duration) BackoffBuilder {
	return BackoffBuilder{policy: api.BackoffPolicy{Base: api.Duration(base)}}
}

// WithMultiplier sets the growth factor between retries. Values not above
// 1 are replaced by the default.
func (b BackoffBuilder) WithMultiplier(m float64) BackoffBuilder {
	b.policy.Multiplier = m
	return b
}

// WithMax caps the delay.
func (b BackoffBuilder) WithMax(max time.Duration) BackoffBuilder {
	b.policy.Max = api.Duration(max)
	return b
}

// WithJitter sets the random spread as a fraction of the delay. It is
// clamped below Multiplier-1 so delays keep growing. Pass NoJitter for fixed
// delays.
func (b BackoffBuilder) WithJitter(j float64) BackoffBuilder {
	b.policy.Jitter = j
	return b
}

// Policy returns the normalized policy.
func (b BackoffBuilder) Policy() BackoffPolicy {
	return b.policy.Normalize()
}

// Retries allows n retries after the first attempt, waiting per b.
//
//	taskgraph.Retries(3, taskgraph.Backoff(100*time.Millisecond).WithMax(2*time.Second))
func Retries(n int, b BackoffBuilder) TaskOption {
	return func(t *api.TaskSpec) {
		t.MaxRetries = n
		p := b.Policy()
		t.Backoff = &p
	}
}
