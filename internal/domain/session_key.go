package domain

import (
	"strings"
	"time"
)

// SessionKeyAction is an action class a session key may be scoped to.
type SessionKeyAction string

const (
	ActionSwap          SessionKeyAction = "swap"
	ActionBridge        SessionKeyAction = "bridge"
	ActionCustom        SessionKeyAction = "custom"
	ActionTransfer      SessionKeyAction = "transfer"
	ActionOpenPosition  SessionKeyAction = "open_position"
	ActionClosePosition SessionKeyAction = "close_position"
)

// SpendLimit caps the per-execution amount for one token on one chain.
// MaxAmount is a base-unit decimal string.
type SpendLimit struct {
	Chain     string `json:"chain"`
	Token     string `json:"token"`
	MaxAmount string `json:"maxAmount"`
}

// SessionKeyPermissions scopes what a session key may sign. Nil/empty slices
// mean "unrestricted" for that dimension.
type SessionKeyPermissions struct {
	Actions          []SessionKeyAction `json:"actions,omitempty"`
	Chains           []string           `json:"chains,omitempty"`
	AllowedContracts []string           `json:"allowedContracts,omitempty"`
	SpendLimits      []SpendLimit       `json:"spendLimits,omitempty"`
}

// AllowsAction reports whether the action is permitted. An absent action
// list permits everything.
func (p SessionKeyPermissions) AllowsAction(action SessionKeyAction) bool {
	if len(p.Actions) == 0 {
		return true
	}
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// AllowsChain reports whether the chain is permitted. An absent chain list
// permits everything.
func (p SessionKeyPermissions) AllowsChain(chain string) bool {
	if len(p.Chains) == 0 {
		return true
	}
	for _, c := range p.Chains {
		if strings.EqualFold(c, chain) {
			return true
		}
	}
	return false
}

// AllowsContract reports whether the contract address is permitted. An
// absent allow-list permits everything.
func (p SessionKeyPermissions) AllowsContract(address string) bool {
	if len(p.AllowedContracts) == 0 {
		return true
	}
	for _, a := range p.AllowedContracts {
		if strings.EqualFold(a, address) {
			return true
		}
	}
	return false
}

// LimitFor returns the spend limit covering (chain, token), if any.
func (p SessionKeyPermissions) LimitFor(chain, token string) (SpendLimit, bool) {
	for _, l := range p.SpendLimits {
		if strings.EqualFold(l.Chain, chain) && strings.EqualFold(l.Token, token) {
			return l, true
		}
	}
	return SpendLimit{}, false
}

// SessionKey is a scoped signing credential. Private material never appears
// here; VaultKeyID references it in the external key store.
type SessionKey struct {
	ID          int64
	UserID      int64
	PublicKey   string
	Permissions SessionKeyPermissions
	VaultKeyID  string
	ExpiresAt   *time.Time
	IsActive    bool
	CreatedAt   time.Time
}

// Usable reports whether the key is active and unexpired at the given time.
func (k SessionKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}
