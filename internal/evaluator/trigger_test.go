package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

func TestPriceTriggered(t *testing.T) {
	cases := []struct {
		name       string
		latest     float64
		haveSample bool
		target     float64
		comparator domain.Comparator
		want       bool
	}{
		{name: "gte fires above target", latest: 2600, haveSample: true, target: 2500, comparator: domain.ComparatorGTE, want: true},
		{name: "gte fires at target", latest: 2500, haveSample: true, target: 2500, comparator: domain.ComparatorGTE, want: true},
		{name: "gte holds below target", latest: 2400, haveSample: true, target: 2500, comparator: domain.ComparatorGTE, want: false},
		{name: "lte fires below target", latest: 2400, haveSample: true, target: 2500, comparator: domain.ComparatorLTE, want: true},
		{name: "lte holds above target", latest: 2600, haveSample: true, target: 2500, comparator: domain.ComparatorLTE, want: false},
		{name: "empty comparator defaults to gte", latest: 2600, haveSample: true, target: 2500, comparator: "", want: true},
		{name: "no sample yet", haveSample: false, target: 2500, comparator: domain.ComparatorGTE, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prices := &fakePriceStore{latest: map[string]domain.PriceSample{}}
			if tc.haveSample {
				prices.setLatest(sample("base", wethAddr, tc.latest, 0))
			}
			trg := domain.Trigger{
				Type:         domain.TriggerPrice,
				Chain:        "base",
				TokenAddress: wethAddr,
				PriceTarget:  tc.target,
				Comparator:   tc.comparator,
			}

			got, err := priceTriggered(context.Background(), prices, trg)
			if err != nil {
				t.Fatalf("priceTriggered: %v", err)
			}
			if got != tc.want {
				t.Errorf("priceTriggered = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPriceTriggered_StoreErrorPropagates(t *testing.T) {
	prices := &fakePriceStore{err: errors.New("connection reset")}
	trg := domain.Trigger{Type: domain.TriggerPrice, Chain: "base", TokenAddress: wethAddr, PriceTarget: 1}

	if _, err := priceTriggered(context.Background(), prices, trg); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestTrendTriggered(t *testing.T) {
	target := usdcAddr
	cases := []struct {
		name    string
		recent  []domain.PriceSample
		top     int
		want    bool
	}{
		{
			name: "target inside top n",
			recent: []domain.PriceSample{
				sample("base", wethAddr, 1, 0),
				sample("base", target, 1, time.Minute),
				sample("base", "0x0000000000000000000000000000000000000001", 1, 2*time.Minute),
			},
			top:  2,
			want: true,
		},
		{
			name: "target outside top n",
			recent: []domain.PriceSample{
				sample("base", wethAddr, 1, 0),
				sample("base", "0x0000000000000000000000000000000000000001", 1, time.Minute),
				sample("base", target, 1, 2*time.Minute),
			},
			top:  2,
			want: false,
		},
		{
			name: "repeated samples consume one rank",
			recent: []domain.PriceSample{
				sample("base", wethAddr, 1, 0),
				sample("base", wethAddr, 1, time.Second),
				sample("base", wethAddr, 1, 2*time.Second),
				sample("base", target, 1, time.Minute),
			},
			top:  2,
			want: true,
		},
		{
			name: "address match ignores case",
			recent: []domain.PriceSample{
				sample("base", strings.ToLower(target), 1, 0),
			},
			top:  1,
			want: true,
		},
		{
			name:   "no samples",
			recent: nil,
			top:    3,
			want:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prices := &fakePriceStore{recent: map[string][]domain.PriceSample{"base": tc.recent}}
			trg := domain.Trigger{Type: domain.TriggerTrend, Chain: "base", TokenAddress: target, Top: tc.top}

			got, err := trendTriggered(context.Background(), prices, trg, 0, time.Now())
			if err != nil {
				t.Fatalf("trendTriggered: %v", err)
			}
			if got != tc.want {
				t.Errorf("trendTriggered = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTrendTriggered_MaxAgeFiltersStaleSamples(t *testing.T) {
	now := time.Now()
	prices := &fakePriceStore{recent: map[string][]domain.PriceSample{
		"base": {sample("base", usdcAddr, 1, 30*time.Minute)},
	}}
	trg := domain.Trigger{Type: domain.TriggerTrend, Chain: "base", TokenAddress: usdcAddr, Top: 5}

	got, err := trendTriggered(context.Background(), prices, trg, 10*time.Minute, now)
	if err != nil {
		t.Fatalf("trendTriggered: %v", err)
	}
	if got {
		t.Error("stale sample should not rank")
	}

	got, err = trendTriggered(context.Background(), prices, trg, 0, now)
	if err != nil {
		t.Fatalf("trendTriggered: %v", err)
	}
	if !got {
		t.Error("zero max age should keep every sample")
	}
}

func TestTrendTriggered_ReadIsBounded(t *testing.T) {
	cases := []struct {
		top       int
		wantLimit int
	}{
		{top: 1, wantLimit: 100},
		{top: 10, wantLimit: 100},
		{top: 50, wantLimit: 500},
		{top: 0, wantLimit: 100},   // clamped up to 1
		{top: 999, wantLimit: 500}, // clamped down to 50
	}

	for _, tc := range cases {
		prices := &fakePriceStore{recent: map[string][]domain.PriceSample{}}
		trg := domain.Trigger{Type: domain.TriggerTrend, Chain: "base", TokenAddress: usdcAddr, Top: tc.top}

		if _, err := trendTriggered(context.Background(), prices, trg, 0, time.Now()); err != nil {
			t.Fatalf("top=%d: %v", tc.top, err)
		}
		if prices.lastLimit != tc.wantLimit {
			t.Errorf("top=%d requested %d samples, want %d", tc.top, prices.lastLimit, tc.wantLimit)
		}
	}
}

func TestTriggered_UnknownTypeRejected(t *testing.T) {
	e := newTestEvaluator(Config{}, &fakeStrategyStore{}, &fakePriceStore{}, &fakeTxLogStore{}, &fakeQueue{}, &recordingExecutor{})
	def := domain.Definition{Trigger: domain.Trigger{Type: "volume"}}

	_, err := e.triggered(context.Background(), def)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
