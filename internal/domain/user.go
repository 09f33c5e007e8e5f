package domain

import "time"

// User owns wallets, strategies, and session keys.
type User struct {
	ID                 int64
	ExternalIdentityID string
	Email              string
	CreatedAt          time.Time
}

// Wallet is a per-chain account record, unique per (UserID, Chain). The
// smart account address may be counterfactual until first deployment.
type Wallet struct {
	ID                  int64
	UserID              int64
	Chain               string
	OwnerAddress        string
	SmartAccountAddress string
	CreatedAt           time.Time
}
