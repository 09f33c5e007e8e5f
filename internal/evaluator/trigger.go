package evaluator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// triggered evaluates the definition's trigger against stored price data.
func (e *Evaluator) triggered(ctx context.Context, def domain.Definition) (bool, error) {
	switch def.Trigger.Type {
	case domain.TriggerPrice:
		return priceTriggered(ctx, e.prices, def.Trigger)
	case domain.TriggerTrend:
		return trendTriggered(ctx, e.prices, def.Trigger, e.cfg.TrendMaxAge, e.now())
	default:
		return false, fmt.Errorf("evaluator: %w: unknown trigger type %q", domain.ErrValidation, def.Trigger.Type)
	}
}

// priceTriggered compares the most recent sample for the trigger's token
// against the target. No sample yet means the trigger does not fire; that is
// the normal state right after a strategy is created.
func priceTriggered(ctx context.Context, prices domain.PriceStore, trg domain.Trigger) (bool, error) {
	sample, err := prices.Latest(ctx, trg.Chain, trg.TokenAddress)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("evaluator: load latest price: %w", err)
	}
	if trg.Comparator == domain.ComparatorLTE {
		return sample.PriceUSD <= trg.PriceTarget, nil
	}
	return sample.PriceUSD >= trg.PriceTarget, nil
}

// trendTriggered reports whether the target token ranks among the chain's
// top-N most recently sampled tokens. Ranking is by the newest sample per
// token; a token polled often sits near the front of the recency window.
// maxAge of zero keeps every sample the store returns.
func trendTriggered(ctx context.Context, prices domain.PriceStore, trg domain.Trigger, maxAge time.Duration, now time.Time) (bool, error) {
	top := trg.Top
	if top < domain.TrendTopMin {
		top = domain.TrendTopMin
	}
	if top > domain.TrendTopMax {
		top = domain.TrendTopMax
	}
	limit := top * 10
	if limit < 100 {
		limit = 100
	}

	samples, err := prices.RecentByChain(ctx, trg.Chain, limit)
	if err != nil {
		return false, fmt.Errorf("evaluator: load recent samples: %w", err)
	}

	// Samples arrive newest first and all share the trigger's chain, so
	// deduplicating by address alone preserves the recency ranking.
	seen := make(map[string]struct{}, top)
	for _, s := range samples {
		if maxAge > 0 && now.Sub(s.Timestamp) > maxAge {
			continue
		}
		key := strings.ToLower(s.Address)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if strings.EqualFold(s.Address, trg.TokenAddress) {
			return true, nil
		}
		if len(seen) == top {
			break
		}
	}
	return false, nil
}
