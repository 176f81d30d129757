package ports

import (
	"context"
	"time"
)

// Locker grants short-lived named leases so only one replica runs a given
// sweep at a time. Correctness never depends on it; row locks do that.
type Locker interface {
	// TryAcquire returns acquired=false when another holder owns key
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}
