// Package backoff provides the delay strategies the retry scheduler uses
// between redelivery attempts on a blocked sequence. Strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a redelivery attempt.
type Strategy interface {
	// Delay returns how long to wait after the n-th failed attempt
	// (1-indexed) before trying the front letter again.
	Delay(attempt int) time.Duration
}

// Policy names accepted by Parse.
const (
	PolicyFixed       = "fixed"
	PolicyLinear      = "linear"
	PolicyExponential = "exponential"
	PolicyJitter      = "jitter"
)

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed waits the same interval after every failure.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows the delay by Initial per failed attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capped(l.Initial*time.Duration(attempt), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay per failed attempt, capped at Max.
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
	return capped(time.Duration(exponent(e.Initial, e.Max, attempt)), e.Max)
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter picks a random delay in
// [0, min(Initial * 2^(attempt-1), Max)] so that many sequences blocked
// by the same outage do not retry in lockstep.
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
	base := exponent(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

// Parse builds the strategy named by policy. An empty policy selects the
// default (jittered exponential).
func Parse(policy string, initial, maxDelay time.Duration) (Strategy, error) {
	switch policy {
	case PolicyFixed:
		return NewFixed(initial), nil
	case PolicyLinear:
		return NewLinear(initial, maxDelay), nil
	case PolicyExponential:
		return NewExponential(initial, maxDelay), nil
	case PolicyJitter, "":
		return NewExponentialWithJitter(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf("backoff: unknown policy %q", policy)
	}
}

// DefaultStrategy returns jittered exponential backoff from 1s up to 5m.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(time.Second, 5*time.Minute)
}

func exponent(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		base = float64(maxDelay)
	}
	// Guard the float to Duration conversion for huge attempt counts.
	if base > math.MaxInt64 {
		base = math.MaxInt64
	}
	return base
}

func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
