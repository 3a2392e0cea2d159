package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type FloatOperationType string

const (
	FloatOperationTopUp    FloatOperationType = "top_up"
	FloatOperationWithdraw FloatOperationType = "withdraw"
)

func (t FloatOperationType) Valid() bool {
	return t == FloatOperationTopUp || t == FloatOperationWithdraw
}

// FloatMovement records float moving between a super agent and one of the
// shop's provider float pools.
//
// A top-up buys float with till cash unless IsNewCapital is set, in which
// case the money comes from outside the shop and the till is untouched.
// A withdraw sells float back for cash.
type FloatMovement struct {
	ID              string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	MovementNo      string             `gorm:"type:varchar(64);uniqueIndex;not null" json:"movement_no"`
	Seq             int64              `gorm:"index;not null" json:"seq"`
	ShopID          string             `gorm:"type:varchar(36);index:idx_flt_shop_date,priority:1;not null" json:"shop_id"`
	ProviderID      string             `gorm:"type:varchar(36);index;not null" json:"provider_id"`
	SuperAgentID    string             `gorm:"type:varchar(36);index;not null" json:"super_agent_id"`
	RecordedBy      string             `gorm:"type:varchar(36);index" json:"recorded_by"`
	Type            FloatOperationType `gorm:"type:varchar(16);not null" json:"type"`
	Category        Category           `gorm:"type:varchar(16);not null" json:"category"`
	Amount          decimal.Decimal    `gorm:"type:decimal(15,2);not null" json:"amount"`
	Reference       string             `gorm:"type:varchar(128);not null" json:"reference"`
	IsNewCapital    bool               `gorm:"not null;default:false" json:"is_new_capital"`
	ReceiptImageURL string             `gorm:"type:varchar(512)" json:"receipt_image_url,omitempty"`
	Notes           string             `gorm:"type:text" json:"notes,omitempty"`
	ReversalOf      *string            `gorm:"type:varchar(36);uniqueIndex" json:"reversal_of,omitempty"`
	TransactionDate time.Time          `gorm:"index:idx_flt_shop_date,priority:2;not null" json:"transaction_date"`
	CreatedAt       time.Time          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FloatMovement) TableName() string {
	return "float_movements"
}

func (m *FloatMovement) IsReversal() bool {
	return m.ReversalOf != nil
}

// Delta is the balance change this row contributes to the fold. Cash always
// moves opposite to float, except for new-capital top-ups.
func (m *FloatMovement) Delta() BalanceDelta {
	var delta BalanceDelta
	switch m.Type {
	case FloatOperationTopUp:
		delta = BalanceDelta{Float: m.Amount, TouchesFloat: true}
		if !m.IsNewCapital {
			delta.Cash = m.Amount.Neg()
			delta.TouchesCash = true
		}
	case FloatOperationWithdraw:
		delta = BalanceDelta{
			Float:        m.Amount.Neg(),
			Cash:         m.Amount,
			TouchesFloat: true,
			TouchesCash:  true,
		}
	}
	if m.IsReversal() {
		return delta.Neg()
	}
	return delta
}
