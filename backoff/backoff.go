// Package backoff provides delay strategies for acquisition idle waits.
// When an acquisition pass comes back empty, the executor backs off before
// the next pass instead of hammering the store. Strategies are stateless
// and safe for concurrent use; Idle adds the per-loop counter.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the wait before idle pass n.
type Strategy interface {
	// Delay returns how long to wait after n consecutive empty passes
	// (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of how many passes
// came back empty.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each empty pass.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
// This keeps a fleet of engine nodes from polling the store in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Idle
// ──────────────────────────────────────────────────

// Idle tracks consecutive empty acquisition passes for one loop. Not safe
// for concurrent use; each acquisition loop owns its own Idle.
type Idle struct {
	strategy Strategy
	empty    int
}

// NewIdle wraps a strategy with an empty-pass counter.
func NewIdle(s Strategy) *Idle {
	return &Idle{strategy: s}
}

// Next records one empty pass and returns the wait before the next one.
func (i *Idle) Next() time.Duration {
	i.empty++
	return i.strategy.Delay(i.empty)
}

// Reset clears the counter after a pass that found work.
func (i *Idle) Reset() {
	i.empty = 0
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default idle backoff used by the executor:
// ExponentialWithJitter with 100ms initial and 10s max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(100*time.Millisecond, 10*time.Second)
}
