// Package chain provides read-only on-chain lookups for execution
// preflight checks: native balances, ERC-20 balances and allowances.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// --------------------------------------------------------------------------
// ERC-20 function selectors (first 4 bytes of keccak256 of the canonical
// signatures).
// --------------------------------------------------------------------------

var (
	// balanceOf(address)
	balanceOfSelector = ethcrypto.Keccak256([]byte("balanceOf(address)"))[:4]

	// allowance(address,address)
	allowanceSelector = ethcrypto.Keccak256([]byte("allowance(address,address)"))[:4]
)

// contractCaller is the slice of ethclient used by the reader. ethclient.Client
// satisfies it.
type contractCaller interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMReader reads balances and allowances from one EVM chain over JSON-RPC.
type EVMReader struct {
	chain  string
	client contractCaller
	closer func()
}

var _ domain.ChainReader = (*EVMReader)(nil)

// NewEVMReader dials the RPC endpoint and returns a reader for the chain.
func NewEVMReader(chain, rpcURL string) (*EVMReader, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("chain: rpc url required for %s", chain)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", chain, err)
	}
	return &EVMReader{chain: chain, client: client, closer: client.Close}, nil
}

// NewEVMReaderWithClient wraps an already-connected client. The caller keeps
// ownership of the client's lifecycle.
func NewEVMReaderWithClient(chain string, client *ethclient.Client) *EVMReader {
	return &EVMReader{chain: chain, client: client}
}

// Chain returns the chain slug the reader serves.
func (r *EVMReader) Chain() string { return r.chain }

// Close releases the underlying RPC connection when the reader owns it.
func (r *EVMReader) Close() {
	if r.closer != nil {
		r.closer()
	}
}

// NativeBalance returns the account's native-token balance in wei at the
// latest block.
func (r *EVMReader) NativeBalance(ctx context.Context, account string) (*big.Int, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	bal, err := r.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: %s balance of %s: %w", r.chain, account, err)
	}
	return bal, nil
}

// TokenBalance returns the account's ERC-20 balance in the token's smallest
// unit.
func (r *EVMReader) TokenBalance(ctx context.Context, token, account string) (*big.Int, error) {
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return nil, err
	}
	accountAddr, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	return r.call(ctx, tokenAddr, packBalanceOf(accountAddr), "balanceOf")
}

// Allowance returns how much of the token the spender may pull from the
// owner's account.
func (r *EVMReader) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	tokenAddr, err := parseAddress(token)
	if err != nil {
		return nil, err
	}
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return nil, err
	}
	return r.call(ctx, tokenAddr, packAllowance(ownerAddr, spenderAddr), "allowance")
}

// call performs an eth_call against the contract and decodes the single
// uint256 return word.
func (r *EVMReader) call(ctx context.Context, contract common.Address, data []byte, method string) (*big.Int, error) {
	msg := ethereum.CallMsg{To: &contract, Data: data}

	out, err := r.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: %s %s call on %s: %w", r.chain, method, contract.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s %s call on %s returned no data", r.chain, method, contract.Hex())
	}
	return new(big.Int).SetBytes(out), nil
}

// --------------------------------------------------------------------------
// Calldata packing
// --------------------------------------------------------------------------

// packBalanceOf encodes balanceOf(account).
func packBalanceOf(account common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(account.Bytes(), 32)...)
	return data
}

// packAllowance encodes allowance(owner, spender).
func packAllowance(owner, spender common.Address) []byte {
	data := make([]byte, 0, 4+64)
	data = append(data, allowanceSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	return data
}

// parseAddress validates and parses a hex address string.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("chain: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
