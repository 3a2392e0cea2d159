package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FloatBalance is the cached fold of every float-affecting journal row for
// one (shop, provider, category). Only the ledger engine writes it.
type FloatBalance struct {
	ID          string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ShopID      string          `gorm:"type:varchar(36);uniqueIndex:uk_float_balance_key,priority:1;not null" json:"shop_id"`
	ProviderID  string          `gorm:"type:varchar(36);uniqueIndex:uk_float_balance_key,priority:2;not null" json:"provider_id"`
	Category    Category        `gorm:"type:varchar(16);uniqueIndex:uk_float_balance_key,priority:3;not null" json:"category"`
	Balance     decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"balance"`
	Version     int             `gorm:"not null;default:0" json:"version"` // optimistic lock
	LastUpdated time.Time       `gorm:"not null" json:"last_updated"`
}

func (FloatBalance) TableName() string {
	return "float_balances"
}

// CashBalance is the cached cash-on-hand of one shop.
type CashBalance struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ShopID         string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"shop_id"`
	Balance        decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"balance"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"opening_balance"`
	Version        int             `gorm:"not null;default:0" json:"version"`
	LastUpdated    time.Time       `gorm:"not null" json:"last_updated"`
}

func (CashBalance) TableName() string {
	return "cash_balances"
}

// BalanceDelta is the change one journal row applies. The Touches flags say
// whether the row takes part in a balance at all, so a zero-amount deposit
// still locks and stamps the float row.
type BalanceDelta struct {
	Float        decimal.Decimal
	Cash         decimal.Decimal
	TouchesFloat bool
	TouchesCash  bool
}

func (d BalanceDelta) Neg() BalanceDelta {
	return BalanceDelta{
		Float:        d.Float.Neg(),
		Cash:         d.Cash.Neg(),
		TouchesFloat: d.TouchesFloat,
		TouchesCash:  d.TouchesCash,
	}
}

// BalanceChange reports one balance row before and after a write.
type BalanceChange struct {
	Previous decimal.Decimal `json:"previous"`
	Current  decimal.Decimal `json:"current"`
	Change   decimal.Decimal `json:"change"`
	Flagged  bool            `json:"flagged,omitempty"` // went negative under the flag policy
}

// BalanceUpdates is what a write operation hands back to the caller.
type BalanceUpdates struct {
	FloatBalance *BalanceChange `json:"float_balance,omitempty"`
	CashBalance  *BalanceChange `json:"cash_balance,omitempty"`
}
