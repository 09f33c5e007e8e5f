// Package vault stores session-key material. The production backend is an
// HTTP KV store with token auth (KV v2 wire shape); FileVault is the
// encrypted-file fallback for local development.
package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// materialField is the single secret field each key id stores.
const materialField = "material"

// Client talks to an HTTP KV secrets store. Secrets live under
// /v1/<mount>/data/<keyID> and hold one base64 material field.
type Client struct {
	baseURL    string
	token      string
	mount      string
	httpClient *http.Client
}

var _ domain.Vault = (*Client)(nil)

// NewClient creates a vault client for the store at baseURL using the given
// auth token and KV mount point.
func NewClient(baseURL, token, mount string, timeout time.Duration) *Client {
	if mount == "" {
		mount = "secret"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		mount:   strings.Trim(mount, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// kvEnvelope is the KV v2 read/write envelope: secret fields nest under
// data.data.
type kvEnvelope struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

// GetKey reads the material stored under keyID.
func (c *Client) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	if err := validateKeyID(keyID); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodGet, c.dataPath(keyID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("vault: key %s: %w", keyID, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError("read", keyID, resp)
	}

	var envelope kvEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("vault: decode secret %s: %w", keyID, err)
	}

	encoded, ok := envelope.Data.Data[materialField]
	if !ok {
		return nil, fmt.Errorf("vault: key %s has no %s field: %w", keyID, materialField, domain.ErrNotFound)
	}
	material, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: key %s material is not base64: %w", keyID, err)
	}
	return material, nil
}

// PutKey stores material under keyID, replacing any previous version.
func (c *Client) PutKey(ctx context.Context, keyID string, material []byte) error {
	if err := validateKeyID(keyID); err != nil {
		return err
	}

	body := map[string]any{
		"data": map[string]string{
			materialField: base64.StdEncoding.EncodeToString(material),
		},
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("vault: marshal secret %s: %w", keyID, err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.dataPath(keyID), bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError("write", keyID, resp)
	}
	return nil
}

// DeleteKey removes the latest version of the secret. Absent ids succeed.
func (c *Client) DeleteKey(ctx context.Context, keyID string) error {
	if err := validateKeyID(keyID); err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodDelete, c.dataPath(keyID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError("delete", keyID, resp)
	}
}

// Ping checks the store's health endpoint. Standby answers count as healthy;
// sealed or uninitialised stores do not.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/sys/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusTooManyRequests:
		return nil
	default:
		return fmt.Errorf("vault: unhealthy, status %d: %w", resp.StatusCode, domain.ErrUpstream)
	}
}

func (c *Client) dataPath(keyID string) string {
	return fmt.Sprintf("/v1/%s/data/%s", c.mount, keyID)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("vault: build request: %w", err)
	}
	req.Header.Set("X-Vault-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault: %s %s: %v: %w", method, path, err, domain.ErrUpstream)
	}
	return resp, nil
}

// statusError folds an unexpected response into one error, keeping a bounded
// slice of the body for the log line.
func statusError(op, keyID string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("vault: %s %s: status %d: %s: %w", op, keyID, resp.StatusCode, bytes.TrimSpace(raw), domain.ErrUpstream)
}

// validateKeyID rejects ids that could escape the secret path.
func validateKeyID(keyID string) error {
	if keyID == "" {
		return fmt.Errorf("vault: empty key id: %w", domain.ErrValidation)
	}
	for _, r := range keyID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return fmt.Errorf("vault: key id %q contains %q: %w", keyID, r, domain.ErrValidation)
		}
	}
	return nil
}
