package definition

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/copilfi/copil-sub001/internal/domain"
)

func TestParseCanonicalPriceSwap(t *testing.T) {
	raw := []byte(`{
		"trigger": {"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":2000},
		"intent": {"type":"swap","fromChain":"base","toChain":"base",
			"fromToken":"0x4200000000000000000000000000000000000006",
			"toToken":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			"fromAmount":"1000000000000000000",
			"userAddress":"0x52908400098527886E0F7030069857D2E4169EE7"},
		"repeat": true,
		"sessionKeyId": 7
	}`)

	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if def.Trigger.Type != domain.TriggerPrice {
		t.Errorf("trigger type = %q, want price", def.Trigger.Type)
	}
	if def.Trigger.Comparator != domain.ComparatorGTE {
		t.Errorf("comparator = %q, want default gte", def.Trigger.Comparator)
	}
	if def.Intent.Type != domain.IntentSwap {
		t.Errorf("intent type = %q, want swap", def.Intent.Type)
	}
	if !def.Repeat || def.SessionKeyID != 7 {
		t.Errorf("repeat/sessionKeyId = %v/%d, want true/7", def.Repeat, def.SessionKeyID)
	}
	if def.IsLegacy() {
		t.Error("canonical definition reported as legacy")
	}
}

func TestParseIdempotent(t *testing.T) {
	inputs := [][]byte{
		[]byte(`{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1.5,"comparator":"lte"},
			"intent":{"type":"custom","name":"noop"},"sessionKeyId":3}`),
		[]byte(`{"trigger":{"type":"trend","chain":"solana","tokenAddress":"So11111111111111111111111111111111111111112","top":120},
			"intent":{"type":"open_position","chain":"hyperliquid","market":"ETH","side":"long","size":0.5,"leverage":3}}`),
		[]byte(`{"type":"price","chain":"eth","tokenAddress":"0x52908400098527886E0F7030069857D2E4169EE7","priceTarget":1}`),
	}

	for i, raw := range inputs {
		first, err := Parse(raw)
		if err != nil {
			t.Fatalf("input %d: first Parse() error = %v", i, err)
		}
		encoded, err := json.Marshal(first)
		if err != nil {
			t.Fatalf("input %d: marshal canonical: %v", i, err)
		}
		second, err := Parse(encoded)
		if err != nil {
			t.Fatalf("input %d: second Parse() error = %v", i, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("input %d: parse not idempotent:\nfirst  %+v\nsecond %+v", i, first, second)
		}
	}
}

func TestParseLegacyFlatForm(t *testing.T) {
	raw := []byte(`{"type":"price","chain":"eth","tokenAddress":"0x52908400098527886E0F7030069857D2E4169EE7","priceTarget":1}`)

	def, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !def.IsLegacy() {
		t.Fatal("legacy flat input not flagged as legacy")
	}
	if def.Intent.Type != domain.IntentCustom || def.Intent.Name != domain.LegacyIntentName {
		t.Errorf("intent = %q/%q, want custom/%s", def.Intent.Type, def.Intent.Name, domain.LegacyIntentName)
	}
	if note, _ := def.Intent.Parameters["note"].(string); note == "" {
		t.Error("legacy intent parameters missing note")
	}
	if def.Trigger.Type != domain.TriggerPrice || def.Trigger.PriceTarget != 1 {
		t.Errorf("trigger = %+v, want price target 1", def.Trigger)
	}
}

func TestParseTrendTopClamped(t *testing.T) {
	cases := []struct {
		name string
		top  string
		want int
	}{
		{"above max", `"top":120`, 50},
		{"below min", `"top":0`, 1},
		{"negative", `"top":-4`, 1},
		{"absent", `"chain":"base"`, 1},
		{"in range", `"top":25`, 25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := []byte(`{"trigger":{"type":"trend","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006",` + tc.top + `},
				"intent":{"type":"custom","name":"noop"}}`)
			def, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if def.Trigger.Top != tc.want {
				t.Errorf("top = %d, want %d", def.Trigger.Top, tc.want)
			}
		})
	}
}

func TestParseValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing intent", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1}}`},
		{"unknown trigger type", `{"trigger":{"type":"volume","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006"},"intent":{"type":"custom","name":"x"}}`},
		{"bad comparator", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1,"comparator":"gt"},"intent":{"type":"custom","name":"x"}}`},
		{"missing price target", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006"},"intent":{"type":"custom","name":"x"}}`},
		{"bad evm address", `{"trigger":{"type":"price","chain":"base","tokenAddress":"not-an-address","priceTarget":1},"intent":{"type":"custom","name":"x"}}`},
		{"legacy non-price", `{"type":"volume","chain":"eth","tokenAddress":"0x52908400098527886E0F7030069857D2E4169EE7"}`},
		{"swap missing amount", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1},
			"intent":{"type":"swap","fromChain":"base","toChain":"base","fromToken":"0x4200000000000000000000000000000000000006","toToken":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","userAddress":"0x52908400098527886E0F7030069857D2E4169EE7"}}`},
		{"percentage out of range", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1},
			"intent":{"type":"swap","fromChain":"base","toChain":"base","fromToken":"0x4200000000000000000000000000000000000006","toToken":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","fromAmount":"150","amountInIsPercentage":true,"userAddress":"0x52908400098527886E0F7030069857D2E4169EE7"}}`},
		{"open position wrong chain", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1},
			"intent":{"type":"open_position","chain":"base","market":"ETH","side":"long","size":1,"leverage":2}}`},
		{"open position bad side", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1},
			"intent":{"type":"open_position","chain":"hyperliquid","market":"ETH","side":"up","size":1,"leverage":2}}`},
		{"custom missing name", `{"trigger":{"type":"price","chain":"base","tokenAddress":"0x4200000000000000000000000000000000000006","priceTarget":1},"intent":{"type":"custom"}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatal("Parse() succeeded, want validation error")
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error %v is not ErrValidation", err)
			}
		})
	}
}

func TestParseValueFromScannedJSONB(t *testing.T) {
	scanned := map[string]any{
		"trigger": map[string]any{
			"type": "price", "chain": "base",
			"tokenAddress": "0x4200000000000000000000000000000000000006",
			"priceTarget":  float64(2000),
		},
		"intent": map[string]any{"type": "custom", "name": "noop"},
	}
	def, err := ParseValue(scanned)
	if err != nil {
		t.Fatalf("ParseValue() error = %v", err)
	}
	if def.Trigger.PriceTarget != 2000 {
		t.Errorf("priceTarget = %v, want 2000", def.Trigger.PriceTarget)
	}
}

func TestOracleTargetsAndChains(t *testing.T) {
	swap := domain.Intent{
		Type: domain.IntentSwap, FromChain: "base", ToChain: "arbitrum",
		FromToken: "0xA", ToToken: "0xB",
	}
	targets := swap.OracleTargets()
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	chains := swap.Chains()
	if len(chains) != 2 || chains[0] != "base" || chains[1] != "arbitrum" {
		t.Errorf("chains = %v, want [base arbitrum]", chains)
	}

	same := domain.Intent{Type: domain.IntentSwap, FromChain: "base", ToChain: "base", FromToken: "0xA", ToToken: "0xA"}
	if n := len(same.OracleTargets()); n != 1 {
		t.Errorf("same-token swap targets = %d, want 1", n)
	}

	custom := domain.Intent{Type: domain.IntentCustom, Name: "x"}
	if custom.PriceSensitive() {
		t.Error("custom intent reported price sensitive")
	}
}
