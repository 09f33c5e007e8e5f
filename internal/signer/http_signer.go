// Package signer provides the production Signer implementation: an HTTP
// client for the transaction signing sub-service that builds, signs and
// submits on-chain transactions on the platform's behalf.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// signPath is the sub-service route that accepts vetted sign requests.
const signPath = "/internal/transactions/sign-and-submit"

// DefaultTimeout bounds one sign-and-submit round trip, including the
// sub-service's own chain submission.
const DefaultTimeout = 30 * time.Second

// Client is an HTTP domain.Signer. Authentication uses the shared service
// token; the correlation id rides along for cross-service log stitching.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

var _ domain.Signer = (*Client)(nil)

// New creates a signer client for the sub-service at baseURL.
func New(baseURL, serviceToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: strings.TrimSpace(serviceToken),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// signResponse is the sub-service's envelope. Error carries the rejection
// reason on non-2xx answers.
type signResponse struct {
	Status      domain.TxStatus `json:"status"`
	TxHash      string          `json:"txHash,omitempty"`
	Description string          `json:"description,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// SignAndSubmit posts the request to the signing sub-service and returns its
// receipt. Rejections (4xx) map to ErrSigner, throttling to ErrRateLimited,
// transport and 5xx failures to ErrUpstream.
func (c *Client) SignAndSubmit(ctx context.Context, req domain.SignRequest) (domain.TxReceipt, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("signer: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+signPath, bytes.NewReader(jsonBody))
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("signer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-service-token", c.serviceToken)
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("signer: submit intent for user %d: %v: %w", req.UserID, err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.TxReceipt{}, fmt.Errorf("signer: submit intent for user %d: %w", req.UserID, domain.ErrRateLimited)

	case resp.StatusCode >= 500:
		return domain.TxReceipt{}, fmt.Errorf("signer: status %d: %s: %w", resp.StatusCode, readReason(resp.Body), domain.ErrUpstream)

	case resp.StatusCode >= 400:
		return domain.TxReceipt{}, fmt.Errorf("signer: status %d: %s: %w", resp.StatusCode, readReason(resp.Body), domain.ErrSigner)
	}

	var body signResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.TxReceipt{}, fmt.Errorf("signer: decode response: %v: %w", err, domain.ErrUpstream)
	}
	if body.Status == "" {
		return domain.TxReceipt{}, fmt.Errorf("signer: response missing status: %w", domain.ErrUpstream)
	}

	return domain.TxReceipt{
		Status:      body.Status,
		TxHash:      body.TxHash,
		Description: body.Description,
	}, nil
}

// readReason extracts the rejection reason from an error body, preferring the
// envelope's error field over the raw payload.
func readReason(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}

	var body signResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return string(bytes.TrimSpace(raw))
}
