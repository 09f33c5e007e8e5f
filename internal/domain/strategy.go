package domain

import "time"

// TriggerType discriminates the trigger variants of a strategy definition.
type TriggerType string

const (
	TriggerPrice TriggerType = "price"
	TriggerTrend TriggerType = "trend"
)

// Comparator selects the direction of a price trigger comparison.
type Comparator string

const (
	ComparatorGTE Comparator = "gte"
	ComparatorLTE Comparator = "lte"
)

// Trend top-N bounds. Values outside the range are clamped by the parser.
const (
	TrendTopMin = 1
	TrendTopMax = 50
)

// Trigger is the condition half of a strategy definition. It is a tagged
// variant: Type selects which fields are meaningful.
type Trigger struct {
	Type         TriggerType `json:"type"`
	Chain        string      `json:"chain"`
	TokenAddress string      `json:"tokenAddress"`

	// price
	PriceTarget float64    `json:"priceTarget,omitempty"`
	Comparator  Comparator `json:"comparator,omitempty"`

	// trend
	Top int `json:"top,omitempty"`
}

// Definition is the canonical form of a user-supplied strategy. Every active
// strategy carries one; the parser normalises all accepted input shapes
// (including the legacy flat form) into this record.
type Definition struct {
	Trigger      Trigger `json:"trigger"`
	Intent       Intent  `json:"intent"`
	Repeat       bool    `json:"repeat,omitempty"`
	SessionKeyID int64   `json:"sessionKeyId,omitempty"`
}

// IsLegacy reports whether the definition came from the legacy flat input
// form. Legacy strategies parse successfully but are skipped at evaluation.
func (d Definition) IsLegacy() bool {
	return d.Intent.Type == IntentCustom && d.Intent.Name == LegacyIntentName
}

// Strategy is a user-declared conditional automation record.
type Strategy struct {
	ID         int64
	UserID     int64
	Name       string
	Definition Definition
	// Schedule is an optional 5-field cron expression. Empty means the
	// strategy is evaluated at the scheduler's default poll cadence.
	Schedule  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
