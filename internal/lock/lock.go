// Package lock provides the distributed lock that elects a single
// worker-pool holder per role across processes.
package lock

import (
	"context"
	"time"
)

// Locker elects at most one holder per role. Acquire is first-wins;
// Refresh and Release are no-ops returning false when the caller no
// longer holds the lock.
type Locker interface {
	Acquire(ctx context.Context, role, holder string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, role, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, role, holder string) error
}
