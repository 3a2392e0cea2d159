package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AdjustmentTarget string

const (
	AdjustmentTargetFloat AdjustmentTarget = "float"
	AdjustmentTargetCash  AdjustmentTarget = "cash"
)

type AdjustmentSource string

const (
	AdjustmentSourceManual         AdjustmentSource = "manual"
	AdjustmentSourceReconciliation AdjustmentSource = "reconciliation"
	AdjustmentSourceOpeningBalance AdjustmentSource = "opening_balance"
)

// BalanceAdjustment is a signed correction to one balance. Cash adjustments
// with source opening_balance are already reflected in
// CashBalance.OpeningBalance and are skipped by the fold.
type BalanceAdjustment struct {
	ID              string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	AdjustmentNo    string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"adjustment_no"`
	Seq             int64            `gorm:"index;not null" json:"seq"`
	ShopID          string           `gorm:"type:varchar(36);index:idx_adj_shop_date,priority:1;not null" json:"shop_id"`
	Target          AdjustmentTarget `gorm:"type:varchar(8);not null" json:"target"`
	ProviderID      string           `gorm:"type:varchar(36)" json:"provider_id,omitempty"`
	Category        Category         `gorm:"type:varchar(16)" json:"category,omitempty"`
	Delta           decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"delta"`
	Reason          string           `gorm:"type:varchar(255);not null" json:"reason"`
	Source          AdjustmentSource `gorm:"type:varchar(32);not null" json:"source"`
	RecordedBy      string           `gorm:"type:varchar(36)" json:"recorded_by"`
	TransactionDate time.Time        `gorm:"index:idx_adj_shop_date,priority:2;not null" json:"transaction_date"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (BalanceAdjustment) TableName() string {
	return "balance_adjustments"
}

func (a *BalanceAdjustment) BalanceDelta() BalanceDelta {
	switch a.Target {
	case AdjustmentTargetFloat:
		return BalanceDelta{Float: a.Delta, TouchesFloat: true}
	case AdjustmentTargetCash:
		if a.Source == AdjustmentSourceOpeningBalance {
			return BalanceDelta{}
		}
		return BalanceDelta{Cash: a.Delta, TouchesCash: true}
	}
	return BalanceDelta{}
}
