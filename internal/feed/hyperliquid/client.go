// Package hyperliquid provides REST and WebSocket access to the Hyperliquid
// perp venue's mid-price feed.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Hyperliquid info endpoint host.
const DefaultBaseURL = "https://api.hyperliquid.xyz"

// Client calls the Hyperliquid info API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. baseURL falls back to the public endpoint.
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

// infoRequest is the envelope every info endpoint shares.
type infoRequest struct {
	Type string `json:"type"`
}

// AllMids returns the current mid price per market symbol. Prices arrive as
// decimal strings keyed by coin (e.g. "BTC" -> "97123.5").
func (c *Client) AllMids(ctx context.Context) (map[string]string, error) {
	body, err := json.Marshal(infoRequest{Type: "allMids"})
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: all mids: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hyperliquid: all mids: status %d: %s", resp.StatusCode, string(raw))
	}

	var mids map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&mids); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode all mids: %w", err)
	}
	return mids, nil
}
