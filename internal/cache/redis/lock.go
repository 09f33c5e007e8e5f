package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// releaseLua deletes a lock key only if its value matches the caller's
// token. This prevents a holder whose lock already expired from releasing
// the next holder's lock.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL only while the caller still owns the key.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// lockWaitPollInterval is how often WaitFor retries a contended lock.
const lockWaitPollInterval = 100 * time.Millisecond

// LockManager implements domain.LockManager using Redis SET NX PX with a
// random token per acquisition and Lua-based conditional release/extend.
type LockManager struct {
	rdb       *redis.Client
	releaseSc *redis.Script
	extendSc  *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		releaseSc: redis.NewScript(releaseLua),
		extendSc:  redis.NewScript(extendLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire attempts to take the lock for key with the given TTL. On success it
// returns the owner token required by Release and Extend. It returns
// domain.ErrLockHeld while another holder owns the key.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()

	ok, err := lm.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

// Release deletes the key iff it still holds token. It reports whether the
// lock was actually released; false means the lock expired and may already
// belong to someone else.
func (lm *LockManager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := lm.releaseSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// Extend resets the TTL iff the key still holds token. It reports whether the
// extension applied.
func (lm *LockManager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: extend lock %s: %w", key, err)
	}
	return n == 1, nil
}

// WaitFor poll-acquires the lock every 100ms until it succeeds or maxWait
// elapses. On timeout it returns domain.ErrLockHeld.
func (lm *LockManager) WaitFor(ctx context.Context, key string, maxWait, ttl time.Duration) (string, error) {
	deadline := time.Now().Add(maxWait)

	for {
		token, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return "", err
		}

		if time.Now().Add(lockWaitPollInterval).After(deadline) {
			return "", domain.ErrLockHeld
		}

		timer := time.NewTimer(lockWaitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("redis: wait for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

// ExecuteWithLock runs fn while holding the lock and releases it on every
// exit path, including panics. A contended lock returns domain.ErrLockHeld
// without invoking fn.
func (lm *LockManager) ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, err := lm.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}

	defer func() {
		// Release with a fresh context so cleanup survives caller
		// cancellation.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = lm.Release(releaseCtx, key, token)
	}()

	return fn(ctx)
}
