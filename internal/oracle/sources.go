package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/feed/dexscreener"
	"github.com/copilfi/copil-sub001/internal/feed/marketindex"
)

// LocalStoreSource answers from the ingestor's own price table. Samples older
// than MaxAge abstain, so a stalled ingestor cannot anchor the median to a
// stale price.
type LocalStoreSource struct {
	store  domain.PriceStore
	maxAge time.Duration
	now    func() time.Time
}

// NewLocalStoreSource creates a source over the price store. maxAge bounds
// sample freshness; zero falls back to 5 minutes.
func NewLocalStoreSource(store domain.PriceStore, maxAge time.Duration) *LocalStoreSource {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &LocalStoreSource{store: store, maxAge: maxAge, now: time.Now}
}

var _ domain.PriceSource = (*LocalStoreSource)(nil)

// Name implements domain.PriceSource.
func (s *LocalStoreSource) Name() string { return "local" }

// PriceUSD implements domain.PriceSource.
func (s *LocalStoreSource) PriceUSD(ctx context.Context, chain, tokenAddress string) (float64, error) {
	sample, err := s.store.Latest(ctx, chain, tokenAddress)
	if err != nil {
		return 0, fmt.Errorf("oracle: local sample: %w", err)
	}

	if age := s.now().Sub(sample.Timestamp); age > s.maxAge {
		return 0, fmt.Errorf("oracle: local sample is %s old (max %s)", age.Truncate(time.Second), s.maxAge)
	}
	return sample.PriceUSD, nil
}

// DexAggregatorSource answers from the DEX aggregator's pair feed, taking
// the first pair that quotes a usable USD price for the token.
type DexAggregatorSource struct {
	client *dexscreener.Client
}

// NewDexAggregatorSource creates a source over the DexScreener client.
func NewDexAggregatorSource(client *dexscreener.Client) *DexAggregatorSource {
	return &DexAggregatorSource{client: client}
}

var _ domain.PriceSource = (*DexAggregatorSource)(nil)

// Name implements domain.PriceSource.
func (s *DexAggregatorSource) Name() string { return domain.SourceDexAggregator }

// PriceUSD implements domain.PriceSource.
func (s *DexAggregatorSource) PriceUSD(ctx context.Context, chain, tokenAddress string) (float64, error) {
	pairs, err := s.client.TokenPairs(ctx, chain, []string{tokenAddress})
	if err != nil {
		return 0, err
	}

	for _, pair := range pairs {
		price, err := strconv.ParseFloat(pair.PriceUsd, 64)
		if err == nil && price > 0 {
			return price, nil
		}
	}
	return 0, fmt.Errorf("oracle: no usable pair for %s/%s: %w", chain, tokenAddress, domain.ErrNotFound)
}

// MarketIndexSource answers from the aggregated market index.
type MarketIndexSource struct {
	client *marketindex.Client
}

// NewMarketIndexSource creates a source over the market index client.
func NewMarketIndexSource(client *marketindex.Client) *MarketIndexSource {
	return &MarketIndexSource{client: client}
}

var _ domain.PriceSource = (*MarketIndexSource)(nil)

// Name implements domain.PriceSource.
func (s *MarketIndexSource) Name() string { return domain.SourceMarketIndex }

// PriceUSD implements domain.PriceSource.
func (s *MarketIndexSource) PriceUSD(ctx context.Context, chain, tokenAddress string) (float64, error) {
	return s.client.TokenPriceUSD(ctx, chain, tokenAddress)
}
