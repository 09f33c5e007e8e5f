package domain

import "time"

// TxStatus is the lifecycle state of a transaction log row.
type TxStatus string

const (
	TxPending TxStatus = "pending"
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxSkipped TxStatus = "skipped"
)

// DetailsIdempotencyKey is the details field that deduplicates executor
// invocations. The details record is authoritative for it.
const DetailsIdempotencyKey = "idempotencyKey"

// TransactionLog records the outcome of one execution attempt. Details is a
// free-form record persisted as jsonb; the idempotency key lives inside it.
type TransactionLog struct {
	ID          int64
	UserID      int64
	StrategyID  *int64
	Description string
	TxHash      string
	Chain       string
	Status      TxStatus
	Details     map[string]any
	CreatedAt   time.Time
}

// IdempotencyKey extracts the dedup key from Details, or "" when absent.
func (l TransactionLog) IdempotencyKey() string {
	if l.Details == nil {
		return ""
	}
	key, _ := l.Details[DetailsIdempotencyKey].(string)
	return key
}

// ExecuteRequest is the executor's input, carried both by the internal HTTP
// endpoint and by transaction-queue jobs.
type ExecuteRequest struct {
	UserID         int64  `json:"userId"`
	Intent         Intent `json:"intent"`
	SessionKeyID   int64  `json:"sessionKeyId"`
	IdempotencyKey string `json:"idempotencyKey"`
	StrategyID     int64  `json:"strategyId,omitempty"`
}

// TxReceipt is the abstract signer's result for one submitted intent.
type TxReceipt struct {
	Status      TxStatus `json:"status"`
	TxHash      string   `json:"txHash,omitempty"`
	Description string   `json:"description,omitempty"`
}
