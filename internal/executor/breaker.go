package executor

import (
	"context"
	"sync"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// Breaker defaults. The threshold counts consecutive transient failures; the
// cooldown is how long calls stay short-circuited before a probe is let
// through.
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 30 * time.Second
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker trips after a run of consecutive transient signer failures and
// rejects calls with domain.ErrBreakerOpen while open. Once the cooldown
// elapses a single probe call is admitted; its outcome decides whether the
// breaker closes or re-opens. Terminal signer rejections do not count as
// failures: they prove the service answered.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	onChange  func(open bool)
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

// NewBreaker builds a closed breaker. onChange, when non-nil, fires on every
// open/close transition (the executor wires a gauge here). Non-positive
// settings fall back to the defaults.
func NewBreaker(threshold int, cooldown time.Duration, onChange func(open bool)) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		onChange:  onChange,
		now:       time.Now,
	}
}

// Do runs fn unless the breaker is open, and feeds fn's result back into the
// failure count. The returned error is fn's own, or domain.ErrBreakerOpen
// when the call was short-circuited.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// Open reports whether calls are currently short-circuited.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen && b.now().Sub(b.openedAt) < b.cooldown
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return domain.ErrBreakerOpen
		}
		// Cooldown over: admit exactly one probe.
		b.state = breakerHalfOpen
		return nil
	case breakerHalfOpen:
		return domain.ErrBreakerOpen
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && domain.IsRetriable(err) {
		b.failures++
		if b.state == breakerHalfOpen || b.failures >= b.threshold {
			b.trip()
		}
		return
	}

	b.failures = 0
	if b.state != breakerClosed {
		b.state = breakerClosed
		b.signal(false)
	}
}

func (b *Breaker) trip() {
	wasOpen := b.state == breakerOpen
	b.state = breakerOpen
	b.openedAt = b.now()
	b.failures = 0
	if !wasOpen {
		b.signal(true)
	}
}

func (b *Breaker) signal(open bool) {
	if b.onChange != nil {
		b.onChange(open)
	}
}
