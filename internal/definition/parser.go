// Package definition normalises user-supplied strategy definitions into the
// canonical internal form. Two input shapes are accepted: the canonical
// nested {trigger, intent, ...} record, and a legacy flat price-trigger form
// which is upgraded to a canonical record with a non-executable custom
// intent. Parsing is idempotent: canonical input round-trips unchanged.
package definition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/copilfi/copil-sub001/internal/domain"
)

// ChainHyperliquid is the only venue perp intents run on.
const ChainHyperliquid = "hyperliquid"

// LegacyNote is stored in the synthesised custom intent's parameters so the
// upgrade is visible in logs and stored definitions.
const LegacyNote = "upgraded from legacy flat definition; no executable intent attached"

// evmChains covers the chains whose addresses must be 0x-hex. Anything not
// listed here (solana, hyperliquid markets, ...) is validated as non-empty
// only.
var evmChains = map[string]bool{
	"ethereum":  true,
	"eth":       true,
	"base":      true,
	"arbitrum":  true,
	"optimism":  true,
	"polygon":   true,
	"bsc":       true,
	"avalanche": true,
}

// IsEVMChain reports whether addresses on the chain follow the 0x-hex form.
func IsEVMChain(chain string) bool {
	return evmChains[strings.ToLower(chain)]
}

// rawDefinition is the permissive decode target used to detect which input
// shape was provided before strict validation.
type rawDefinition struct {
	Trigger      *rawTrigger     `json:"trigger"`
	Intent       json.RawMessage `json:"intent"`
	Repeat       bool            `json:"repeat"`
	SessionKeyID json.Number     `json:"sessionKeyId"`

	// Legacy flat fields.
	Type         string   `json:"type"`
	Chain        string   `json:"chain"`
	TokenAddress string   `json:"tokenAddress"`
	PriceTarget  *float64 `json:"priceTarget"`
	Comparator   string   `json:"comparator"`
}

type rawTrigger struct {
	Type         string   `json:"type"`
	Chain        string   `json:"chain"`
	TokenAddress string   `json:"tokenAddress"`
	PriceTarget  *float64 `json:"priceTarget"`
	Comparator   string   `json:"comparator"`
	Top          *int     `json:"top"`
}

// Parse decodes and canonicalises a JSON strategy definition.
func Parse(raw []byte) (domain.Definition, error) {
	var rd rawDefinition
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rd); err != nil {
		return domain.Definition{}, fmt.Errorf("definition: decode: %v: %w", err, domain.ErrValidation)
	}

	if rd.Trigger == nil {
		return parseLegacy(rd)
	}

	trigger, err := parseTrigger(*rd.Trigger)
	if err != nil {
		return domain.Definition{}, err
	}

	intent, err := parseIntent(rd.Intent)
	if err != nil {
		return domain.Definition{}, err
	}

	def := domain.Definition{
		Trigger: trigger,
		Intent:  intent,
		Repeat:  rd.Repeat,
	}
	if rd.SessionKeyID != "" {
		id, err := rd.SessionKeyID.Int64()
		if err != nil || id < 0 {
			return domain.Definition{}, fmt.Errorf("definition: sessionKeyId must be a non-negative integer: %w", domain.ErrValidation)
		}
		def.SessionKeyID = id
	}
	return def, nil
}

// ParseValue canonicalises an already-decoded JSON value (e.g. a jsonb
// column scanned as map[string]any).
func ParseValue(v any) (domain.Definition, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("definition: encode input: %v: %w", err, domain.ErrValidation)
	}
	return Parse(raw)
}

// parseLegacy upgrades the flat {type:"price", chain, tokenAddress,
// priceTarget} form. The synthesised intent is custom/legacy-definition and
// never dispatches; the evaluator records such strategies as skipped.
func parseLegacy(rd rawDefinition) (domain.Definition, error) {
	if rd.Type != string(domain.TriggerPrice) {
		return domain.Definition{}, fmt.Errorf("definition: unrecognised shape (no trigger, type=%q): %w", rd.Type, domain.ErrValidation)
	}
	trigger, err := parseTrigger(rawTrigger{
		Type:         rd.Type,
		Chain:        rd.Chain,
		TokenAddress: rd.TokenAddress,
		PriceTarget:  rd.PriceTarget,
		Comparator:   rd.Comparator,
	})
	if err != nil {
		return domain.Definition{}, err
	}
	return domain.Definition{
		Trigger: trigger,
		Intent: domain.Intent{
			Type:       domain.IntentCustom,
			Name:       domain.LegacyIntentName,
			Parameters: map[string]any{"note": LegacyNote},
		},
	}, nil
}

func parseTrigger(rt rawTrigger) (domain.Trigger, error) {
	if rt.Chain == "" {
		return domain.Trigger{}, fmt.Errorf("definition: trigger.chain is required: %w", domain.ErrValidation)
	}
	if err := validateAddress(rt.Chain, rt.TokenAddress, "trigger.tokenAddress"); err != nil {
		return domain.Trigger{}, err
	}

	trigger := domain.Trigger{
		Chain:        rt.Chain,
		TokenAddress: rt.TokenAddress,
	}

	switch domain.TriggerType(rt.Type) {
	case domain.TriggerPrice:
		trigger.Type = domain.TriggerPrice
		if rt.PriceTarget == nil {
			return domain.Trigger{}, fmt.Errorf("definition: trigger.priceTarget is required for price triggers: %w", domain.ErrValidation)
		}
		target := *rt.PriceTarget
		if math.IsNaN(target) || math.IsInf(target, 0) || target < 0 {
			return domain.Trigger{}, fmt.Errorf("definition: trigger.priceTarget must be a finite non-negative number: %w", domain.ErrValidation)
		}
		trigger.PriceTarget = target
		switch domain.Comparator(rt.Comparator) {
		case domain.ComparatorGTE, domain.ComparatorLTE:
			trigger.Comparator = domain.Comparator(rt.Comparator)
		case "":
			trigger.Comparator = domain.ComparatorGTE
		default:
			return domain.Trigger{}, fmt.Errorf("definition: trigger.comparator %q is not one of gte, lte: %w", rt.Comparator, domain.ErrValidation)
		}

	case domain.TriggerTrend:
		trigger.Type = domain.TriggerTrend
		top := 0
		if rt.Top != nil {
			top = *rt.Top
		}
		trigger.Top = clampTop(top)

	default:
		return domain.Trigger{}, fmt.Errorf("definition: trigger.type %q is not one of price, trend: %w", rt.Type, domain.ErrValidation)
	}

	return trigger, nil
}

func clampTop(top int) int {
	if top < domain.TrendTopMin {
		return domain.TrendTopMin
	}
	if top > domain.TrendTopMax {
		return domain.TrendTopMax
	}
	return top
}

func parseIntent(raw json.RawMessage) (domain.Intent, error) {
	if len(raw) == 0 {
		return domain.Intent{}, fmt.Errorf("definition: intent is required: %w", domain.ErrValidation)
	}
	var intent domain.Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return domain.Intent{}, fmt.Errorf("definition: decode intent: %v: %w", err, domain.ErrValidation)
	}

	switch intent.Type {
	case domain.IntentSwap, domain.IntentBridge:
		return validateTransferIntent(intent)
	case domain.IntentOpenPosition:
		return validateOpenPosition(intent)
	case domain.IntentClosePosition:
		return validateClosePosition(intent)
	case domain.IntentCustom:
		if intent.Name == "" {
			return domain.Intent{}, fmt.Errorf("definition: intent.name is required for custom intents: %w", domain.ErrValidation)
		}
		return intent, nil
	default:
		return domain.Intent{}, fmt.Errorf("definition: intent.type %q is not recognised: %w", intent.Type, domain.ErrValidation)
	}
}

func validateTransferIntent(intent domain.Intent) (domain.Intent, error) {
	kind := string(intent.Type)
	if intent.FromChain == "" || intent.ToChain == "" {
		return domain.Intent{}, fmt.Errorf("definition: %s intent requires fromChain and toChain: %w", kind, domain.ErrValidation)
	}
	if err := validateAddress(intent.FromChain, intent.FromToken, "intent.fromToken"); err != nil {
		return domain.Intent{}, err
	}
	if err := validateAddress(intent.ToChain, intent.ToToken, "intent.toToken"); err != nil {
		return domain.Intent{}, err
	}
	if err := validateAddress(intent.FromChain, intent.UserAddress, "intent.userAddress"); err != nil {
		return domain.Intent{}, err
	}
	if intent.DestinationAddress != "" {
		if err := validateAddress(intent.ToChain, intent.DestinationAddress, "intent.destinationAddress"); err != nil {
			return domain.Intent{}, err
		}
	}
	if err := validateAmount(intent.FromAmount, intent.AmountInIsPercentage); err != nil {
		return domain.Intent{}, err
	}
	if intent.SlippageBps < 0 || intent.SlippageBps > 10_000 {
		return domain.Intent{}, fmt.Errorf("definition: intent.slippageBps must be within [0, 10000]: %w", domain.ErrValidation)
	}
	return intent, nil
}

func validateOpenPosition(intent domain.Intent) (domain.Intent, error) {
	if intent.Chain != ChainHyperliquid {
		return domain.Intent{}, fmt.Errorf("definition: open_position intents run on %q only, got %q: %w", ChainHyperliquid, intent.Chain, domain.ErrValidation)
	}
	if intent.Market == "" {
		return domain.Intent{}, fmt.Errorf("definition: intent.market is required: %w", domain.ErrValidation)
	}
	if intent.Side != domain.SideLong && intent.Side != domain.SideShort {
		return domain.Intent{}, fmt.Errorf("definition: intent.side %q is not one of long, short: %w", intent.Side, domain.ErrValidation)
	}
	if intent.Size <= 0 || math.IsNaN(intent.Size) || math.IsInf(intent.Size, 0) {
		return domain.Intent{}, fmt.Errorf("definition: intent.size must be a positive number: %w", domain.ErrValidation)
	}
	if intent.Leverage < 1 {
		return domain.Intent{}, fmt.Errorf("definition: intent.leverage must be at least 1: %w", domain.ErrValidation)
	}
	if intent.Slippage < 0 || intent.Slippage >= 1 {
		return domain.Intent{}, fmt.Errorf("definition: intent.slippage must be within [0, 1): %w", domain.ErrValidation)
	}
	return intent, nil
}

func validateClosePosition(intent domain.Intent) (domain.Intent, error) {
	if intent.Chain != ChainHyperliquid {
		return domain.Intent{}, fmt.Errorf("definition: close_position intents run on %q only, got %q: %w", ChainHyperliquid, intent.Chain, domain.ErrValidation)
	}
	if intent.Market == "" {
		return domain.Intent{}, fmt.Errorf("definition: intent.market is required: %w", domain.ErrValidation)
	}
	return intent, nil
}

// validateAmount checks FromAmount: a positive base-unit integer string, or
// a percentage in (0, 100] when pct is set.
func validateAmount(amount string, pct bool) error {
	if amount == "" {
		return fmt.Errorf("definition: intent.fromAmount is required: %w", domain.ErrValidation)
	}
	if pct {
		p, err := strconv.ParseFloat(amount, 64)
		if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
			return fmt.Errorf("definition: percentage fromAmount %q is not numeric: %w", amount, domain.ErrValidation)
		}
		if p <= 0 || p > 100 {
			return fmt.Errorf("definition: percentage fromAmount must be within (0, 100]: %w", domain.ErrValidation)
		}
		return nil
	}
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok || n.Sign() <= 0 {
		return fmt.Errorf("definition: fromAmount %q is not a positive base-unit integer: %w", amount, domain.ErrValidation)
	}
	return nil
}

func validateAddress(chain, address, field string) error {
	if address == "" {
		return fmt.Errorf("definition: %s is required: %w", field, domain.ErrValidation)
	}
	if IsEVMChain(chain) && !common.IsHexAddress(address) {
		return fmt.Errorf("definition: %s %q is not a valid %s address: %w", field, address, chain, domain.ErrValidation)
	}
	return nil
}
