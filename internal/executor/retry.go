package executor

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetries is the number of extra attempts a failed record gets
const DefaultRetries = 1

// RetryPolicy decides whether a failed attempt is tried again.
// attempt is the 1-based number of the attempt that produced out.
// Implementations must be pure: the same inputs always give the same answer.
type RetryPolicy interface {
	ShouldRetry(attempt int, out Outcome) bool
}

// RetryPolicyFunc adapts an ordinary function to the RetryPolicy interface
type RetryPolicyFunc func(attempt int, out Outcome) bool

// ShouldRetry calls f(attempt, out)
func (f RetryPolicyFunc) ShouldRetry(attempt int, out Outcome) bool {
	return f(attempt, out)
}

// DefaultPolicy retries any failure up to Retries times
type DefaultPolicy struct {
	// Retries is the number of attempts allowed after the first
	Retries int

	// SkipAuthFailures stops retrying when the controller rejected the old credential
	SkipAuthFailures bool
}

// ShouldRetry implements RetryPolicy
func (p DefaultPolicy) ShouldRetry(attempt int, out Outcome) bool {
	if out.Status != StatusFailure {
		return false
	}
	if out.Cause == CauseCancelled {
		return false
	}
	if p.SkipAuthFailures && out.Cause == CauseAuth {
		return false
	}
	return attempt <= p.Retries
}

// MaxAttempts returns the most attempts a single record can receive
func (p DefaultPolicy) MaxAttempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// NoRetry returns a policy that never retries
func NoRetry() RetryPolicy {
	return DefaultPolicy{Retries: 0}
}

// BackoffConfig spaces out retries of the same record.
// The zero value retries immediately.
type BackoffConfig struct {
	// Initial is the wait before the first retry; zero disables waiting
	Initial time.Duration

	// Max caps a single wait
	Max time.Duration

	// Multiplier grows the wait between consecutive retries
	Multiplier float64
}

// Enabled reports whether retries wait at all
func (c BackoffConfig) Enabled() bool {
	return c.Initial > 0
}

// New returns a fresh backoff sequence for one record
func (c BackoffConfig) New() backoff.BackOff {
	if !c.Enabled() {
		return &backoff.ZeroBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Initial
	if c.Max > 0 {
		b.MaxInterval = c.Max
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	// the retry count bounds the sequence, not elapsed time
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// nextDelay returns the next wait from b, treating backoff.Stop as no wait
func nextDelay(b backoff.BackOff) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d < 0 {
		return 0
	}
	return d
}
