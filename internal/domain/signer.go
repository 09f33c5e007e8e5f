package domain

import "context"

// SignRequest is what the execution service hands to the signing backend
// once an intent has passed every guard. Amounts are decimal strings in the
// token's smallest unit.
type SignRequest struct {
	UserID        int64          `json:"userId"`
	SessionKeyID  int64          `json:"sessionKeyId"`
	Chain         string         `json:"chain"`
	Intent        Intent         `json:"intent"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Signer builds, signs and submits the on-chain transaction for a vetted
// intent. Implementations are remote services; failures are classified via
// ErrSigner (terminal rejection), ErrRateLimited and ErrUpstream (transient).
type Signer interface {
	SignAndSubmit(ctx context.Context, req SignRequest) (TxReceipt, error)
}
