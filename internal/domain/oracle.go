package domain

import (
	"context"
	"time"
)

// PriceSource is a single provider the oracle can query for a spot price.
// Implementations must honour the context deadline; the oracle enforces a
// per-source timeout and treats errors as a null vote, not a failure.
type PriceSource interface {
	// Name identifies the source in logs and consensus results.
	Name() string

	// PriceUSD returns the current USD price for the token on the given
	// chain. A zero or negative price is invalid and must be returned as
	// an error.
	PriceUSD(ctx context.Context, chain, tokenAddress string) (float64, error)
}

// SourceQuote is one source's answer during a consensus round.
type SourceQuote struct {
	Source   string  `json:"source"`
	PriceUSD float64 `json:"priceUsd"`
	Err      string  `json:"error,omitempty"`
}

// Consensus is the outcome of an oracle round for one token.
type Consensus struct {
	Chain        string        `json:"chain"`
	TokenAddress string        `json:"tokenAddress"`
	Median       float64       `json:"median"`
	DeviationPct float64       `json:"deviationPct"`
	Quotes       []SourceQuote `json:"quotes"`
	CheckedAt    time.Time     `json:"checkedAt"`

	// OK is true when enough sources answered and their spread stayed
	// within the configured deviation bound.
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// OracleValidator gates price-sensitive execution on multi-source agreement.
type OracleValidator interface {
	// Check runs one consensus round for the token. The returned
	// Consensus reports the verdict; an error means the round itself
	// could not run, not that the sources disagreed.
	Check(ctx context.Context, chain, tokenAddress string) (Consensus, error)
}
