package model

import (
	"github.com/shopspring/decimal"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var (
	severityLowLimit    = decimal.NewFromInt(100)
	severityMediumLimit = decimal.NewFromInt(500)
	severityHighLimit   = decimal.NewFromInt(5000)
)

// SeverityOf buckets a drift by its absolute size.
func SeverityOf(difference decimal.Decimal) Severity {
	abs := difference.Abs()
	switch {
	case abs.LessThanOrEqual(severityLowLimit):
		return SeverityLow
	case abs.LessThanOrEqual(severityMediumLimit):
		return SeverityMedium
	case abs.LessThanOrEqual(severityHighLimit):
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Drift is a stored balance that disagrees with the journal fold.
// Difference is Stored minus Computed.
type Drift struct {
	ShopID      string           `json:"shop_id"`
	Target      AdjustmentTarget `json:"target"`
	ProviderID  string           `json:"provider_id,omitempty"`
	Category    Category         `json:"category,omitempty"`
	Stored      decimal.Decimal  `json:"stored"`
	Computed    decimal.Decimal  `json:"computed"`
	Difference  decimal.Decimal  `json:"difference"`
	Severity    Severity         `json:"severity"`
	Description string           `json:"description"`
}
