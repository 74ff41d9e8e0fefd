// Package retry holds the exponential backoff policy used when a section
// fetch fails with a retryable error.
package retry

import (
	"math"
	"time"
)

// Policy configures exponential backoff. Attempts are numbered from 1.
type Policy struct {
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	MaxAttempts   int
}

// DefaultPolicy returns the policy used by every section: 1s, 2s, 4s ...
// capped at 10s, at most 3 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:     1000 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      10000 * time.Millisecond,
		MaxAttempts:   3,
	}
}

// DelayForAttempt returns min(MaxDelay, BaseDelay * BackoffFactor^(n-1)).
// Attempt numbers below 1 are treated as 1.
func (p Policy) DelayForAttempt(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(n-1))
	if p.MaxDelay > 0 && (delay > float64(p.MaxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay)) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether a failure on attempt n may be retried.
func (p Policy) ShouldRetry(canRetry bool, n int) bool {
	return canRetry && n < p.MaxAttempts
}
