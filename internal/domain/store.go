package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore persists users.
type UserStore interface {
	Create(ctx context.Context, user User) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	GetByExternalIdentity(ctx context.Context, externalID string) (User, error)
}

// WalletStore persists per-chain wallets, unique per (userID, chain).
type WalletStore interface {
	Upsert(ctx context.Context, wallet Wallet) (Wallet, error)
	GetByUserAndChain(ctx context.Context, userID int64, chain string) (Wallet, error)
	ListByUser(ctx context.Context, userID int64) ([]Wallet, error)
}

// SessionKeyStore persists session key records (never private material).
type SessionKeyStore interface {
	Create(ctx context.Context, key SessionKey) (SessionKey, error)
	GetByID(ctx context.Context, id int64) (SessionKey, error)
	GetByPublicKey(ctx context.Context, publicKey string) (SessionKey, error)
	Deactivate(ctx context.Context, id int64) error
	// DeactivateExpired flips isActive off for keys whose expiry has passed
	// and returns how many rows changed.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// StrategyStore persists strategies.
type StrategyStore interface {
	Create(ctx context.Context, strategy Strategy) (Strategy, error)
	GetByID(ctx context.Context, id int64) (Strategy, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Strategy, error)
	SetActive(ctx context.Context, id int64, active bool) error
	CountActive(ctx context.Context) (int64, error)
}

// PriceStore persists append-only price samples.
type PriceStore interface {
	Insert(ctx context.Context, sample PriceSample) error
	InsertBatch(ctx context.Context, samples []PriceSample) error
	// Latest returns the most recent sample for (chain, address) across all
	// sources, by timestamp descending.
	Latest(ctx context.Context, chain, address string) (PriceSample, error)
	// RecentByChain returns up to limit samples for the chain, newest first.
	RecentByChain(ctx context.Context, chain string, limit int) ([]PriceSample, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]PriceSample, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TransactionLogStore persists execution outcomes.
type TransactionLogStore interface {
	Create(ctx context.Context, log TransactionLog) (TransactionLog, error)
	GetByID(ctx context.Context, id int64) (TransactionLog, error)
	// FindByIdempotencyKey resolves the details->idempotencyKey index.
	// Returns ErrNotFound when no row carries the key.
	FindByIdempotencyKey(ctx context.Context, key string) (TransactionLog, error)
	UpdateStatus(ctx context.Context, id int64, status TxStatus, txHash string) error
	ListByUser(ctx context.Context, userID int64, opts ListOpts) ([]TransactionLog, error)
	ListByStrategy(ctx context.Context, strategyID int64, opts ListOpts) ([]TransactionLog, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]TransactionLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
