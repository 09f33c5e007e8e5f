package observability

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"
)

// HeaderCorrelationID is the header that carries the correlation id between
// services.
const HeaderCorrelationID = "X-Correlation-Id"

// base36 digits for the random suffix.
const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

type correlationKey struct{}

// NewCorrelationID returns a fresh id of the form req-<ms36>-<rand6>: the
// current unix milliseconds in base 36 plus six random base-36 characters.
// Ids sort roughly by creation time and are cheap enough to mint per request.
func NewCorrelationID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = base36[rand.IntN(len(base36))]
	}
	return "req-" + strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + string(suffix)
}

// WithCorrelationID stores the id on the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the context's correlation id, or "" when unset.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
