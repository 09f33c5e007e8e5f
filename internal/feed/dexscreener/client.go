// Package dexscreener is a client for the DexScreener token-pairs API, the
// ingestor's DEX-aggregated price feed.
package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public DexScreener API endpoint.
const DefaultBaseURL = "https://api.dexscreener.com"

// maxAddressesPerCall is the API's cap on comma-joined token addresses.
const maxAddressesPerCall = 30

// Token identifies one side of a pair.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Pair is one DEX pair row. PriceUsd arrives as a decimal string; absent or
// non-numeric values are the caller's cue to drop the row.
type Pair struct {
	ChainID     string  `json:"chainId"`
	DexID       string  `json:"dexId"`
	PairAddress string  `json:"pairAddress"`
	BaseToken   Token   `json:"baseToken"`
	QuoteToken  Token   `json:"quoteToken"`
	PriceUsd    string  `json:"priceUsd"`
	PriceNative string  `json:"priceNative"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity,omitempty"`
}

// Client calls the DexScreener REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. baseURL falls back to the public endpoint; timeout
// bounds each request.
func New(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TokenPairs returns the pairs for the given token addresses on one chain.
// Address lists longer than the API's per-call cap are chunked transparently.
func (c *Client) TokenPairs(ctx context.Context, chain string, addresses []string) ([]Pair, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	var pairs []Pair
	for start := 0; start < len(addresses); start += maxAddressesPerCall {
		end := start + maxAddressesPerCall
		if end > len(addresses) {
			end = len(addresses)
		}

		chunk, err := c.tokenPairsChunk(ctx, chain, addresses[start:end])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, chunk...)
	}
	return pairs, nil
}

func (c *Client) tokenPairsChunk(ctx context.Context, chain string, addresses []string) ([]Pair, error) {
	url := fmt.Sprintf("%s/tokens/v1/%s/%s", c.baseURL, chain, strings.Join(addresses, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: token pairs %s: %w", chain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dexscreener: token pairs %s: status %d: %s", chain, resp.StatusCode, string(body))
	}

	var pairs []Pair
	if err := json.NewDecoder(resp.Body).Decode(&pairs); err != nil {
		return nil, fmt.Errorf("dexscreener: decode token pairs: %w", err)
	}
	return pairs, nil
}
