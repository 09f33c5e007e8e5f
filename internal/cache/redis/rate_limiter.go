package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/copilfi/copil-sub001/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// Wait polls with a conservative single-slot budget; callers with real
// limits use Allow directly.
const (
	waitPollInterval = 50 * time.Millisecond
	waitLimit        = 1
	waitWindow       = time.Second
)

// RateLimiter is a sliding-window limiter over Redis sorted sets. The
// executor throttles signer submissions per user with it and the HTTP
// layer throttles callers per IP; both share one bucket space so limits
// hold across replicas.
type RateLimiter struct {
	rdb           *redis.Client
	slidingWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.Underlying(),
		slidingWindow: redis.NewScript(slidingWindowLua),
	}
}

func rateLimitKey(key string) string {
	return "ratelimit:" + key
}

// Allow records a request against the key's window and reports whether it
// fit under the limit. Denied requests are not recorded, so a saturated
// bucket drains on its own.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now().UnixMicro()

	result, err := rl.slidingWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(key)},
		now,
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}

	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}

	return result[0] == 1, nil
}

// Wait blocks until one request for the key fits under the single-slot
// budget, polling until the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		allowed, err := rl.Allow(ctx, key, waitLimit, waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
