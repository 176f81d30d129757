package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines the outer time budgets. Gateway calls carry their
// own, shorter deadline inside either one.
//
//	HTTP request (30s) / sweep run (10m)
//	  ↓
//	Gateway call (10s)
type TimeoutConfig struct {
	HTTPHandler time.Duration // one API request
	Sweep       time.Duration // one sweep invocation
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		HTTPHandler: 30 * time.Second,
		Sweep:       10 * time.Minute,
	}
}

// SweepContext detaches from parent's cancellation, so a sweep outlives the
// scheduler that triggered it, but still bounds the run by Sweep. Values on
// parent (request id, trace) are kept.
func (tc TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), tc.Sweep)
}
