package engine

import (
	"math/rand"
	"time"
)

// RetryPolicy governs automatic retry of a node whose operator returns an
// error the Retryable predicate accepts. Nil means no retries: the first
// failure is terminal for that node.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first,
	// must be >= 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// shouldRetry reports whether attempt (0-based, the attempt that just
// failed with err) should be followed by another try.
func (p *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if p == nil {
		return false
	}
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// computeBackoff returns the delay before the next attempt: exponential
// in attempt, capped at maxDelay, plus jitter in [0, base) to avoid
// concurrent siblings retrying in lockstep.
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(base)))
	return delay + jitter
}
