package domain

import (
	"context"
	"math/big"
)

// ChainReader exposes the read-only on-chain lookups the execution service
// needs for its preflight checks. One reader serves one chain.
type ChainReader interface {
	// Chain returns the chain slug the reader is connected to.
	Chain() string

	// NativeBalance returns the account's native-token balance in wei.
	NativeBalance(ctx context.Context, account string) (*big.Int, error)

	// TokenBalance returns the account's ERC-20 balance in the token's
	// smallest unit.
	TokenBalance(ctx context.Context, token, account string) (*big.Int, error)

	// Allowance returns how much of the token the spender may pull from
	// the owner's account.
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)
}
