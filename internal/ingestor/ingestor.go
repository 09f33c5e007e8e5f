// Package ingestor pulls market prices from the configured feeds on
// independent tickers and persists them as append-only price samples.
package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/feed/dexscreener"
	"github.com/copilfi/copil-sub001/internal/feed/hyperliquid"
	"github.com/copilfi/copil-sub001/internal/observability"
)

// perpChain is the chain slug perp-venue samples are filed under.
const perpChain = "hyperliquid"

// DexFeed lists DEX pairs for a chain's watched token addresses.
type DexFeed interface {
	TokenPairs(ctx context.Context, chain string, addresses []string) ([]dexscreener.Pair, error)
}

// PerpFeed returns the perp venue's current mid price per symbol.
type PerpFeed interface {
	AllMids(ctx context.Context) (map[string]string, error)
}

// Config controls the ingest cadence and watch lists.
type Config struct {
	// DexInterval is the DEX feed poll cadence.
	DexInterval time.Duration
	// PerpInterval is the perp feed poll cadence.
	PerpInterval time.Duration
	// Watch maps a chain slug to the token addresses to sample there.
	Watch map[string][]string
	// PerpSymbols filters the venue's mids to the markets worth storing.
	PerpSymbols []string

	// EnableLiveFeed adds the websocket mid stream on top of the periodic
	// pull. The pull stays on as the source of record.
	EnableLiveFeed bool
	// LiveWSURL overrides the venue's websocket endpoint.
	LiveWSURL string
	// LiveMinInterval bounds how often the live stream may insert samples
	// for one symbol.
	LiveMinInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DexInterval <= 0 {
		c.DexInterval = time.Minute
	}
	if c.PerpInterval <= 0 {
		c.PerpInterval = time.Minute
	}
	if c.LiveMinInterval <= 0 {
		c.LiveMinInterval = 5 * time.Second
	}
	return c
}

// Ingestor runs the price feeds. Per-tick failures are logged and the loop
// continues; one chain failing never blocks its siblings.
type Ingestor struct {
	cfg     Config
	dex     DexFeed
	perp    PerpFeed
	prices  domain.PriceStore
	metrics *observability.Metrics
	logger  *slog.Logger

	liveMu   sync.Mutex
	liveSeen map[string]time.Time
}

// New creates an Ingestor.
func New(cfg Config, dex DexFeed, perp PerpFeed, prices domain.PriceStore, metrics *observability.Metrics, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		cfg:      cfg.withDefaults(),
		dex:      dex,
		perp:     perp,
		prices:   prices,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "ingestor")),
		liveSeen: make(map[string]time.Time),
	}
}

// Run starts the feed loops and blocks until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	i.logger.InfoContext(ctx, "ingestor starting",
		slog.Duration("dex_interval", i.cfg.DexInterval),
		slog.Duration("perp_interval", i.cfg.PerpInterval),
		slog.Int("watched_chains", len(i.cfg.Watch)),
		slog.Int("perp_symbols", len(i.cfg.PerpSymbols)),
		slog.Bool("live_feed", i.cfg.EnableLiveFeed),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := i.runLoop(ctx, "dex", i.cfg.DexInterval, i.ingestDex)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("dex feed: %w", err)
	})

	g.Go(func() error {
		err := i.runLoop(ctx, "perp", i.cfg.PerpInterval, i.ingestPerps)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("perp feed: %w", err)
	})

	if i.cfg.EnableLiveFeed {
		feed := hyperliquid.NewWSFeed(i.cfg.LiveWSURL, i.liveHandler(ctx), i.logger)
		g.Go(func() error {
			err := feed.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("live feed: %w", err)
		})
	}

	return g.Wait()
}

// runLoop executes task immediately, then on every tick. Task errors are
// logged and the loop continues.
func (i *Ingestor) runLoop(ctx context.Context, feed string, interval time.Duration, task func(context.Context) error) error {
	if err := task(ctx); err != nil {
		i.ingestError(ctx, feed, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.logger.InfoContext(ctx, "feed loop stopped", slog.String("feed", feed))
			return ctx.Err()
		case <-ticker.C:
			if err := task(ctx); err != nil {
				i.ingestError(ctx, feed, err)
			}
		}
	}
}

// ingestDex pulls watched pairs per chain and stores one sample per token.
func (i *Ingestor) ingestDex(ctx context.Context) error {
	now := time.Now().UTC()

	for chain, addresses := range i.cfg.Watch {
		if len(addresses) == 0 {
			continue
		}

		pairs, err := i.dex.TokenPairs(ctx, chain, addresses)
		if err != nil {
			// Sibling chains still get their tick.
			i.ingestError(ctx, "dex", fmt.Errorf("chain %s: %w", chain, err))
			continue
		}

		samples := make([]domain.PriceSample, 0, len(addresses))
		for _, addr := range addresses {
			pair, ok := bestPairFor(pairs, addr)
			if !ok {
				continue
			}
			price, ok := parsePrice(pair.PriceUsd)
			if !ok || pair.BaseToken.Symbol == "" {
				continue
			}
			samples = append(samples, domain.PriceSample{
				Chain:     chain,
				Address:   addr,
				Symbol:    pair.BaseToken.Symbol,
				PriceUSD:  price,
				Source:    domain.SourceDexAggregator,
				Timestamp: now,
			})
		}

		if err := i.store(ctx, samples); err != nil {
			i.ingestError(ctx, "dex", fmt.Errorf("chain %s: %w", chain, err))
			continue
		}
		i.logger.DebugContext(ctx, "dex tick stored",
			slog.String("chain", chain),
			slog.Int("samples", len(samples)),
		)
	}
	return nil
}

// ingestPerps pulls the venue mids and stores the watched symbols.
func (i *Ingestor) ingestPerps(ctx context.Context) error {
	if len(i.cfg.PerpSymbols) == 0 {
		return nil
	}

	mids, err := i.perp.AllMids(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	samples := make([]domain.PriceSample, 0, len(i.cfg.PerpSymbols))
	for _, symbol := range i.cfg.PerpSymbols {
		mid, ok := mids[symbol]
		if !ok {
			continue
		}
		price, ok := parsePrice(mid)
		if !ok {
			continue
		}
		samples = append(samples, domain.PriceSample{
			Chain:     perpChain,
			Address:   symbol,
			Symbol:    symbol,
			PriceUSD:  price,
			Source:    domain.SourcePerpVenue,
			Timestamp: now,
		})
	}

	if err := i.store(ctx, samples); err != nil {
		return err
	}
	i.logger.DebugContext(ctx, "perp tick stored", slog.Int("samples", len(samples)))
	return nil
}

// liveHandler coalesces websocket pushes: a symbol is stored at most once per
// LiveMinInterval, keeping the table append rate bounded however fast the
// stream runs.
func (i *Ingestor) liveHandler(ctx context.Context) hyperliquid.MidsHandler {
	watched := make(map[string]bool, len(i.cfg.PerpSymbols))
	for _, s := range i.cfg.PerpSymbols {
		watched[s] = true
	}

	return func(mids map[string]string) {
		now := time.Now().UTC()

		i.liveMu.Lock()
		var samples []domain.PriceSample
		for symbol, mid := range mids {
			if !watched[symbol] {
				continue
			}
			if last, ok := i.liveSeen[symbol]; ok && now.Sub(last) < i.cfg.LiveMinInterval {
				continue
			}
			price, ok := parsePrice(mid)
			if !ok {
				continue
			}
			i.liveSeen[symbol] = now
			samples = append(samples, domain.PriceSample{
				Chain:     perpChain,
				Address:   symbol,
				Symbol:    symbol,
				PriceUSD:  price,
				Source:    domain.SourcePerpVenue,
				Timestamp: now,
			})
		}
		i.liveMu.Unlock()

		if err := i.store(ctx, samples); err != nil {
			i.ingestError(ctx, "live", err)
		}
	}
}

func (i *Ingestor) store(ctx context.Context, samples []domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	if err := i.prices.InsertBatch(ctx, samples); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	for _, s := range samples {
		i.metrics.SamplesIngested.WithLabelValues(s.Source).Inc()
	}
	return nil
}

func (i *Ingestor) ingestError(ctx context.Context, feed string, err error) {
	i.metrics.IngestErrors.WithLabelValues(feed).Inc()
	i.logger.ErrorContext(ctx, "ingest tick failed",
		slog.String("feed", feed),
		slog.String("error", err.Error()),
	)
}

// bestPairFor picks the deepest pair whose base token matches the watched
// address. Aggregators list one row per DEX pool; liquidity breaks the tie.
func bestPairFor(pairs []dexscreener.Pair, address string) (dexscreener.Pair, bool) {
	var best dexscreener.Pair
	found := false
	bestLiquidity := -1.0

	for _, p := range pairs {
		if !strings.EqualFold(p.BaseToken.Address, address) {
			continue
		}
		liquidity := 0.0
		if p.Liquidity != nil {
			liquidity = p.Liquidity.USD
		}
		if !found || liquidity > bestLiquidity {
			best = p
			bestLiquidity = liquidity
			found = true
		}
	}
	return best, found
}

// parsePrice parses a decimal price string, rejecting non-finite and
// non-positive values.
func parsePrice(s string) (float64, bool) {
	price, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, false
	}
	return price, true
}
