package domain

import "time"

// Price sample sources, one per feed adapter.
const (
	SourceDexAggregator = "dexAggregator"
	SourcePerpVenue     = "perpVenue"
	SourceMarketIndex   = "marketIndex"
)

// PriceSample is one append-only market observation. Address holds the token
// contract address, or the market symbol for perp venues.
type PriceSample struct {
	ID        int64
	Chain     string
	Address   string
	Symbol    string
	PriceUSD  float64
	Source    string
	Timestamp time.Time
}
