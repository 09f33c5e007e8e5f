package ingestor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
	"github.com/copilfi/copil-sub001/internal/feed/dexscreener"
	"github.com/copilfi/copil-sub001/internal/observability"
)

const (
	wethAddr = "0x4200000000000000000000000000000000000006"
	usdcAddr = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

type fakeDexFeed struct {
	pairs map[string][]dexscreener.Pair
	errs  map[string]error
}

func (f *fakeDexFeed) TokenPairs(ctx context.Context, chain string, addresses []string) ([]dexscreener.Pair, error) {
	if err := f.errs[chain]; err != nil {
		return nil, err
	}
	return f.pairs[chain], nil
}

type fakePerpFeed struct {
	mids map[string]string
	err  error
}

func (f *fakePerpFeed) AllMids(ctx context.Context) (map[string]string, error) {
	return f.mids, f.err
}

type recordingPriceStore struct {
	mu      sync.Mutex
	batches [][]domain.PriceSample
	err     error
}

func (s *recordingPriceStore) Insert(ctx context.Context, p domain.PriceSample) error { return s.err }

func (s *recordingPriceStore) InsertBatch(ctx context.Context, samples []domain.PriceSample) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, samples)
	return nil
}

func (s *recordingPriceStore) Latest(ctx context.Context, chain, address string) (domain.PriceSample, error) {
	return domain.PriceSample{}, domain.ErrNotFound
}

func (s *recordingPriceStore) RecentByChain(ctx context.Context, chain string, limit int) ([]domain.PriceSample, error) {
	return nil, nil
}

func (s *recordingPriceStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.PriceSample, error) {
	return nil, nil
}

func (s *recordingPriceStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *recordingPriceStore) all() []domain.PriceSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PriceSample
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func pair(chain, addr, symbol, price string, liquidity float64) dexscreener.Pair {
	p := dexscreener.Pair{ChainID: chain, PriceUsd: price}
	p.BaseToken.Address = addr
	p.BaseToken.Symbol = symbol
	p.Liquidity = &struct {
		USD float64 `json:"usd"`
	}{USD: liquidity}
	return p
}

func newTestIngestor(cfg Config, dex DexFeed, perp PerpFeed, store domain.PriceStore) *Ingestor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, dex, perp, store, observability.NewMetrics("test"), logger)
}

func TestIngestDex_ValidatesAndPicksDeepestPool(t *testing.T) {
	dex := &fakeDexFeed{pairs: map[string][]dexscreener.Pair{
		"base": {
			pair("base", wethAddr, "WETH", "2501.5", 1_000_000),
			// Deeper pool for the same token wins.
			pair("base", wethAddr, "WETH", "2502.0", 9_000_000),
			// The aggregator lowercases addresses; matching ignores case
			// and the stored row keeps the configured form.
			pair("base", strings.ToLower(usdcAddr), "USDC", "1.0", 800),
			// Bad price rows are dropped.
			pair("base", usdcAddr, "USDC", "not-a-number", 500),
		},
	}}
	store := &recordingPriceStore{}
	ing := newTestIngestor(Config{Watch: map[string][]string{"base": {wethAddr, usdcAddr}}}, dex, &fakePerpFeed{}, store)

	if err := ing.ingestDex(context.Background()); err != nil {
		t.Fatalf("ingestDex: %v", err)
	}

	samples := store.all()
	if len(samples) != 2 {
		t.Fatalf("stored %d samples, want 2: %+v", len(samples), samples)
	}

	bySymbol := make(map[string]domain.PriceSample, len(samples))
	for _, s := range samples {
		bySymbol[s.Symbol] = s
		if s.Source != domain.SourceDexAggregator {
			t.Errorf("source = %s", s.Source)
		}
	}
	if got := bySymbol["WETH"].PriceUSD; got != 2502.0 {
		t.Errorf("WETH price = %v, want deepest pool's 2502.0", got)
	}
	if got := bySymbol["USDC"].Address; got != usdcAddr {
		t.Errorf("USDC address = %s, want configured form %s", got, usdcAddr)
	}
}

func TestIngestDex_SiblingChainSurvivesFailure(t *testing.T) {
	dex := &fakeDexFeed{
		pairs: map[string][]dexscreener.Pair{
			"avalanche": {pair("avalanche", wethAddr, "WETH.e", "2500", 100)},
		},
		errs: map[string]error{"base": errors.New("rate limited")},
	}
	store := &recordingPriceStore{}
	ing := newTestIngestor(Config{Watch: map[string][]string{
		"base":      {wethAddr},
		"avalanche": {wethAddr},
	}}, dex, &fakePerpFeed{}, store)

	if err := ing.ingestDex(context.Background()); err != nil {
		t.Fatalf("ingestDex must not abort on a single chain: %v", err)
	}

	samples := store.all()
	if len(samples) != 1 || samples[0].Chain != "avalanche" {
		t.Fatalf("expected the healthy chain's sample, got %+v", samples)
	}
}

func TestIngestPerps_FiltersToWatchedSymbols(t *testing.T) {
	perp := &fakePerpFeed{mids: map[string]string{
		"BTC":  "97123.5",
		"ETH":  "2502.25",
		"DOGE": "0.31",
		"BAD":  "zero",
	}}
	store := &recordingPriceStore{}
	ing := newTestIngestor(Config{PerpSymbols: []string{"BTC", "ETH", "BAD", "MISSING"}}, &fakeDexFeed{}, perp, store)

	if err := ing.ingestPerps(context.Background()); err != nil {
		t.Fatalf("ingestPerps: %v", err)
	}

	samples := store.all()
	if len(samples) != 2 {
		t.Fatalf("stored %d samples, want 2: %+v", len(samples), samples)
	}
	for _, s := range samples {
		if s.Chain != perpChain || s.Source != domain.SourcePerpVenue {
			t.Errorf("sample misfiled: %+v", s)
		}
		if s.Address != s.Symbol {
			t.Errorf("perp samples key by symbol, got address %s symbol %s", s.Address, s.Symbol)
		}
	}
}

func TestIngestPerps_NoSymbolsIsNoOp(t *testing.T) {
	perp := &fakePerpFeed{err: errors.New("should not be called")}
	store := &recordingPriceStore{}
	ing := newTestIngestor(Config{}, &fakeDexFeed{}, perp, store)

	if err := ing.ingestPerps(context.Background()); err != nil {
		t.Fatalf("ingestPerps with no symbols: %v", err)
	}
	if len(store.all()) != 0 {
		t.Error("no samples expected")
	}
}

func TestLiveHandler_CoalescesBursts(t *testing.T) {
	store := &recordingPriceStore{}
	ing := newTestIngestor(Config{
		PerpSymbols:     []string{"ETH"},
		LiveMinInterval: time.Hour,
	}, &fakeDexFeed{}, &fakePerpFeed{}, store)

	handler := ing.liveHandler(context.Background())

	handler(map[string]string{"ETH": "2500.0", "BTC": "97000"})
	handler(map[string]string{"ETH": "2500.1"})
	handler(map[string]string{"ETH": "2500.2"})

	samples := store.all()
	if len(samples) != 1 {
		t.Fatalf("stored %d samples, want 1 within the min interval: %+v", len(samples), samples)
	}
	if samples[0].Symbol != "ETH" || samples[0].PriceUSD != 2500.0 {
		t.Errorf("sample = %+v", samples[0])
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2500.5", true},
		{"0.00000001", true},
		{"0", false},
		{"-1", false},
		{"NaN", false},
		{"Inf", false},
		{"", false},
		{"abc", false},
	}
	for _, tc := range cases {
		if _, ok := parsePrice(tc.in); ok != tc.ok {
			t.Errorf("parsePrice(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
	}
}
