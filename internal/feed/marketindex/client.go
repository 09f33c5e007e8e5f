// Package marketindex is a client for a CoinGecko-compatible market index.
// The oracle uses it as an aggregated out-of-band price source.
package marketindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// platformIDs maps chain slugs to the index's asset-platform identifiers.
var platformIDs = map[string]string{
	"ethereum":  "ethereum",
	"base":      "base",
	"arbitrum":  "arbitrum-one",
	"optimism":  "optimistic-ethereum",
	"polygon":   "polygon-pos",
	"avalanche": "avalanche",
	"bsc":       "binance-smart-chain",
	"solana":    "solana",
}

// Client calls the market index REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client. baseURL falls back to the public endpoint; apiKey is
// optional.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TokenPriceUSD returns the indexed USD price of a token contract on a chain.
// Unknown chains and unlisted tokens return ErrNotFound.
func (c *Client) TokenPriceUSD(ctx context.Context, chain, address string) (float64, error) {
	platform, ok := platformIDs[strings.ToLower(chain)]
	if !ok {
		return 0, fmt.Errorf("marketindex: unsupported chain %q: %w", chain, domain.ErrNotFound)
	}

	q := url.Values{}
	q.Set("contract_addresses", address)
	q.Set("vs_currencies", "usd")

	reqURL := fmt.Sprintf("%s/simple/token_price/%s?%s", c.baseURL, platform, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("marketindex: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("marketindex: token price %s/%s: %w", chain, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, fmt.Errorf("marketindex: token price %s/%s: %w", chain, address, domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("marketindex: token price %s/%s: status %d: %s", chain, address, resp.StatusCode, string(raw))
	}

	// Response shape: {"<address>": {"usd": 123.45}}; the index lowercases
	// contract addresses.
	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("marketindex: decode token price: %w", err)
	}

	entry, ok := body[strings.ToLower(address)]
	if !ok {
		entry, ok = body[address]
	}
	if !ok {
		return 0, fmt.Errorf("marketindex: token %s not indexed: %w", address, domain.ErrNotFound)
	}

	price, ok := entry["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("marketindex: token %s has no usd quote: %w", address, domain.ErrNotFound)
	}
	return price, nil
}
