// Package oracle gates price-sensitive execution on multi-source price
// consensus: every configured source is polled concurrently, errors count as
// abstentions, and the round passes only when enough sources answered and no
// quote strays too far from the median.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// Config tunes a Validator. Zero values fall back to the defaults below.
type Config struct {
	// SourceTimeout bounds each source's answer. A late source abstains.
	SourceTimeout time.Duration
	// MaxDeviationPct vetoes the round when any quote deviates more than
	// this percentage from the median.
	MaxDeviationPct float64
	// MinSources is the minimum number of non-null quotes for a verdict.
	MinSources int
}

const (
	defaultSourceTimeout   = 5 * time.Second
	defaultMaxDeviationPct = 20.0
	defaultMinSources      = 2
)

func (c Config) withDefaults() Config {
	if c.SourceTimeout <= 0 {
		c.SourceTimeout = defaultSourceTimeout
	}
	if c.MaxDeviationPct <= 0 {
		c.MaxDeviationPct = defaultMaxDeviationPct
	}
	if c.MinSources <= 0 {
		c.MinSources = defaultMinSources
	}
	return c
}

// Validator implements domain.OracleValidator over a fixed set of sources.
type Validator struct {
	sources []domain.PriceSource
	cfg     Config
	logger  *slog.Logger
}

// NewValidator creates a Validator polling the given sources.
func NewValidator(sources []domain.PriceSource, cfg Config, logger *slog.Logger) *Validator {
	return &Validator{
		sources: sources,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "oracle")),
	}
}

var _ domain.OracleValidator = (*Validator)(nil)

// Check runs one consensus round for the token. Source failures and
// timeouts are abstentions, not errors: the round only errors when it cannot
// run at all.
func (v *Validator) Check(ctx context.Context, chain, tokenAddress string) (domain.Consensus, error) {
	if len(v.sources) == 0 {
		return domain.Consensus{}, fmt.Errorf("oracle: no sources configured")
	}

	quotes := make([]domain.SourceQuote, len(v.sources))

	var wg sync.WaitGroup
	for i, src := range v.sources {
		wg.Add(1)
		go func(i int, src domain.PriceSource) {
			defer wg.Done()

			srcCtx, cancel := context.WithTimeout(ctx, v.cfg.SourceTimeout)
			defer cancel()

			price, err := src.PriceUSD(srcCtx, chain, tokenAddress)
			quote := domain.SourceQuote{Source: src.Name()}
			switch {
			case err != nil:
				quote.Err = err.Error()
			case price <= 0 || math.IsNaN(price) || math.IsInf(price, 0):
				quote.Err = fmt.Sprintf("invalid price %v", price)
			default:
				quote.PriceUSD = price
			}
			quotes[i] = quote
		}(i, src)
	}
	wg.Wait()

	consensus := domain.Consensus{
		Chain:        chain,
		TokenAddress: tokenAddress,
		Quotes:       quotes,
		CheckedAt:    time.Now().UTC(),
	}

	var prices []float64
	for _, q := range quotes {
		if q.Err == "" {
			prices = append(prices, q.PriceUSD)
		}
	}

	if len(prices) < v.cfg.MinSources {
		consensus.Reason = fmt.Sprintf("insufficient sources: %d of %d answered, need %d",
			len(prices), len(v.sources), v.cfg.MinSources)
		v.logger.WarnContext(ctx, "consensus veto",
			slog.String("chain", chain),
			slog.String("token", tokenAddress),
			slog.String("reason", consensus.Reason),
		)
		return consensus, nil
	}

	consensus.Median = median(prices)
	consensus.DeviationPct = maxDeviationPct(prices, consensus.Median)

	if consensus.DeviationPct > v.cfg.MaxDeviationPct {
		consensus.Reason = fmt.Sprintf("deviation %.2f%% exceeds %.2f%%",
			consensus.DeviationPct, v.cfg.MaxDeviationPct)
		v.logger.WarnContext(ctx, "consensus veto",
			slog.String("chain", chain),
			slog.String("token", tokenAddress),
			slog.Float64("median", consensus.Median),
			slog.String("reason", consensus.Reason),
		)
		return consensus, nil
	}

	consensus.OK = true
	v.logger.DebugContext(ctx, "consensus reached",
		slog.String("chain", chain),
		slog.String("token", tokenAddress),
		slog.Float64("median", consensus.Median),
		slog.Float64("deviation_pct", consensus.DeviationPct),
		slog.Int("sources", len(prices)),
	)
	return consensus, nil
}

// median of a non-empty slice; the input is copied before sorting.
func median(prices []float64) float64 {
	sorted := make([]float64, len(prices))
	copy(sorted, prices)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// maxDeviationPct is the largest relative distance of any quote from the
// median, in percent.
func maxDeviationPct(prices []float64, med float64) float64 {
	if med == 0 {
		return 0
	}
	var max float64
	for _, p := range prices {
		d := math.Abs(p-med) / med * 100
		if d > max {
			max = d
		}
	}
	return max
}
