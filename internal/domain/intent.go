package domain

// IntentType discriminates the action variants of a strategy definition.
type IntentType string

const (
	IntentSwap          IntentType = "swap"
	IntentBridge        IntentType = "bridge"
	IntentOpenPosition  IntentType = "open_position"
	IntentClosePosition IntentType = "close_position"
	IntentCustom        IntentType = "custom"
)

// LegacyIntentName marks custom intents synthesised from the legacy flat
// definition form.
const LegacyIntentName = "legacy-definition"

// PositionSide is the direction of a perp position intent.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Intent is the action half of a strategy definition: a normalised
// description of the on-chain action to perform. It is a tagged variant;
// Type selects which field group is meaningful.
type Intent struct {
	Type IntentType `json:"type"`

	// swap / bridge
	FromChain string `json:"fromChain,omitempty"`
	ToChain   string `json:"toChain,omitempty"`
	FromToken string `json:"fromToken,omitempty"`
	ToToken   string `json:"toToken,omitempty"`
	// FromAmount is a base-unit decimal string, or a percentage when
	// AmountInIsPercentage is set.
	FromAmount           string `json:"fromAmount,omitempty"`
	UserAddress          string `json:"userAddress,omitempty"`
	AmountInIsPercentage bool   `json:"amountInIsPercentage,omitempty"`
	SlippageBps          int    `json:"slippageBps,omitempty"`
	DestinationAddress   string `json:"destinationAddress,omitempty"`

	// open_position / close_position
	Chain    string       `json:"chain,omitempty"`
	Market   string       `json:"market,omitempty"`
	Side     PositionSide `json:"side,omitempty"`
	Size     float64      `json:"size,omitempty"`
	Leverage int          `json:"leverage,omitempty"`
	Slippage float64      `json:"slippage,omitempty"`

	// custom
	Name       string         `json:"name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Chains returns every chain the intent touches, deduplicated in order of
// appearance. Session key permission checks run against this set.
func (i Intent) Chains() []string {
	var out []string
	seen := make(map[string]bool, 2)
	add := func(c string) {
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	switch i.Type {
	case IntentSwap, IntentBridge:
		add(i.FromChain)
		add(i.ToChain)
	case IntentOpenPosition, IntentClosePosition:
		add(i.Chain)
	}
	return out
}

// PriceSensitive reports whether the intent requires oracle consensus before
// dispatch.
func (i Intent) PriceSensitive() bool {
	switch i.Type {
	case IntentSwap, IntentBridge, IntentOpenPosition:
		return true
	default:
		return false
	}
}

// OracleTargets returns the (chain, tokenAddress) pairs the oracle validator
// must reach consensus on before this intent may be signed.
func (i Intent) OracleTargets() []OracleTarget {
	switch i.Type {
	case IntentSwap, IntentBridge:
		targets := []OracleTarget{{Chain: i.FromChain, TokenAddress: i.FromToken}}
		if i.ToChain != i.FromChain || i.ToToken != i.FromToken {
			targets = append(targets, OracleTarget{Chain: i.ToChain, TokenAddress: i.ToToken})
		}
		return targets
	case IntentOpenPosition:
		return []OracleTarget{{Chain: i.Chain, TokenAddress: i.Market}}
	default:
		return nil
	}
}

// OracleTarget identifies a token whose price must pass consensus.
type OracleTarget struct {
	Chain        string
	TokenAddress string
}
