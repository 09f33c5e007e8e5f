package domain

import (
	"context"
	"time"
)

// LockManager provides the distributed lock primitive. All operations are
// tokenised: the token returned by Acquire is required to release or extend,
// so a lock that expired and was re-acquired elsewhere cannot be clobbered.
type LockManager interface {
	// Acquire takes the lock or returns ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	// Release deletes the key iff it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)
	// Extend resets the TTL iff the key still holds token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// WaitFor poll-acquires every 100ms until maxWait elapses.
	WaitFor(ctx context.Context, key string, maxWait, ttl time.Duration) (token string, err error)
	// ExecuteWithLock runs fn under the lock and guarantees release on every
	// exit path. A failed initial acquire returns ErrLockHeld.
	ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
