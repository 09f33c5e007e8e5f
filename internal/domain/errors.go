package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstream         = errors.New("upstream failure")
	ErrSigner           = errors.New("signer failure")
	ErrInternal         = errors.New("internal error")
)

// Specialisations. errors.Is resolves them to their parent kind, so callers
// can branch on the broad class or the precise cause as needed.
var (
	ErrLockHeld    = fmt.Errorf("lock already held: %w", ErrConflict)
	ErrBreakerOpen = fmt.Errorf("circuit breaker open: %w", ErrUpstream)
)

// IsRetriable reports whether an error is transient per the propagation
// policy: upstream and rate-limit failures may be retried with backoff,
// everything else is terminal for the current attempt.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrRateLimited)
}
