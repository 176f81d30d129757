package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines retry backoff behavior
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with optional jitter
type ExponentialBackoff struct {
	BaseDelay  time.Duration // Initial delay
	MaxDelay   time.Duration // Upper bound on any single delay
	Multiplier float64       // Exponential multiplier (typically 2.0)
	Jitter     float64       // Jitter factor (0.0-1.0); 0 gives a fixed schedule
}

// RenewalRetryBackoff returns the schedule used between failed renewal
// attempts: base, 2*base, 4*base ... capped at maxDelay, without jitter so the
// next retry time stored on a subscription is predictable.
//
// With the defaults (1h, 24h):
//   - Attempt 0: 1h
//   - Attempt 1: 2h
//   - Attempt 2: 4h
//   - Attempt 5+: 24h (capped)
func RenewalRetryBackoff(base, maxDelay time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  base,
		MaxDelay:   maxDelay,
		Multiplier: 2.0,
	}
}

// DispatchBackoff returns the backoff used when the notification broker
// is unavailable.
func DispatchBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// NextDelay calculates the delay for the given attempt number (0-indexed)
//
// The delay is calculated as: BaseDelay * (Multiplier ^ attempt) ± jitter
// The result is capped at MaxDelay to prevent excessive delays
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return eb.BaseDelay
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.Jitter > 0 {
		jitterAmount := delay * eb.Jitter
		delay += (rand.Float64()*2 - 1) * jitterAmount
	}

	finalDelay := time.Duration(delay)
	if finalDelay < 0 {
		finalDelay = eb.BaseDelay
	}

	return finalDelay
}
