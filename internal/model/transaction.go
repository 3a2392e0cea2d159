package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Transaction types
// ============================================================================

type TransactionType string

const (
	TransactionTypeDeposit         TransactionType = "deposit"
	TransactionTypeWithdrawal      TransactionType = "withdrawal"
	TransactionTypeAirtime         TransactionType = "airtime"
	TransactionTypeBundle          TransactionType = "bundle"
	TransactionTypeElectricity     TransactionType = "electricity"
	TransactionTypeWater           TransactionType = "water"
	TransactionTypeTV              TransactionType = "tv"
	TransactionTypeOtherUtility    TransactionType = "other_utility"
	TransactionTypeBankDeposit     TransactionType = "bank_deposit"
	TransactionTypeBankWithdrawal  TransactionType = "bank_withdrawal"
	TransactionTypeBillPayment     TransactionType = "bill_payment"
	TransactionTypeFundsTransfer   TransactionType = "funds_transfer"
	TransactionTypeAccountToWallet TransactionType = "account_to_wallet"
	TransactionTypeWalletToAccount TransactionType = "wallet_to_account"
)

// Effect is the direction a movement pushes one balance.
type Effect int8

const (
	EffectNone      Effect = 0
	EffectIncrement Effect = 1
	EffectDecrement Effect = -1
)

func (e Effect) Apply(amount decimal.Decimal) decimal.Decimal {
	switch e {
	case EffectIncrement:
		return amount
	case EffectDecrement:
		return amount.Neg()
	default:
		return decimal.Zero
	}
}

func (e Effect) String() string {
	switch e {
	case EffectIncrement:
		return "increment"
	case EffectDecrement:
		return "decrement"
	default:
		return "none"
	}
}

// TransactionEffect describes how one transaction type moves float and cash.
type TransactionEffect struct {
	Type  TransactionType `json:"value"`
	Float Effect          `json:"-"`
	Cash  Effect          `json:"-"`
}

// transactionEffects registers, per category, how each type moves float and cash.
// Customer-facing sales (deposits, utilities) spend agent float and bring cash
// into the till; withdrawals do the opposite. The two bank wallet transfers
// only move float.
var transactionEffects = map[Category][]TransactionEffect{
	CategoryMobile: {
		{TransactionTypeDeposit, EffectDecrement, EffectIncrement},
		{TransactionTypeWithdrawal, EffectIncrement, EffectDecrement},
		{TransactionTypeAirtime, EffectDecrement, EffectIncrement},
		{TransactionTypeBundle, EffectDecrement, EffectIncrement},
		{TransactionTypeElectricity, EffectDecrement, EffectIncrement},
		{TransactionTypeWater, EffectDecrement, EffectIncrement},
		{TransactionTypeTV, EffectDecrement, EffectIncrement},
		{TransactionTypeOtherUtility, EffectDecrement, EffectIncrement},
	},
	CategoryBank: {
		{TransactionTypeBankDeposit, EffectDecrement, EffectIncrement},
		{TransactionTypeBankWithdrawal, EffectIncrement, EffectDecrement},
		{TransactionTypeBillPayment, EffectDecrement, EffectIncrement},
		{TransactionTypeFundsTransfer, EffectDecrement, EffectIncrement},
		{TransactionTypeAccountToWallet, EffectDecrement, EffectNone},
		{TransactionTypeWalletToAccount, EffectIncrement, EffectNone},
	},
}

// EffectOf returns the effect of txType within category. The second result is
// false when the type does not belong to the category.
func EffectOf(category Category, txType TransactionType) (TransactionEffect, bool) {
	for _, e := range transactionEffects[category] {
		if e.Type == txType {
			return e, true
		}
	}
	return TransactionEffect{}, false
}

var transactionLabels = map[TransactionType]string{
	TransactionTypeDeposit:         "Deposit",
	TransactionTypeWithdrawal:      "Withdrawal",
	TransactionTypeAirtime:         "Airtime",
	TransactionTypeBundle:          "Bundle",
	TransactionTypeElectricity:     "Electricity",
	TransactionTypeWater:           "Water",
	TransactionTypeTV:              "TV",
	TransactionTypeOtherUtility:    "Other Utility",
	TransactionTypeBankDeposit:     "Bank Deposit",
	TransactionTypeBankWithdrawal:  "Bank Withdrawal",
	TransactionTypeBillPayment:     "Bill Payment",
	TransactionTypeFundsTransfer:   "Funds Transfer",
	TransactionTypeAccountToWallet: "Account to Wallet",
	TransactionTypeWalletToAccount: "Wallet to Account",
}

func (t TransactionType) Label() string {
	if label, ok := transactionLabels[t]; ok {
		return label
	}
	return string(t)
}

// TransactionEffects returns a copy of the effect table for category.
func TransactionEffects(category Category) []TransactionEffect {
	effects := transactionEffects[category]
	out := make([]TransactionEffect, len(effects))
	copy(out, effects)
	return out
}

// ============================================================================
// Transaction journal row
// ============================================================================

// Transaction is a customer-facing money movement recorded by a cashier.
//
// Rows are append-only. Amount, type and category never change after insert;
// a correction is a new row whose ReversalOf points at the original and whose
// effect is the negated effect of the original. Notes and ReceiptImageURL are
// the only columns that may be updated in place.
type Transaction struct {
	ID                 string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	TransactionNo      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	Seq                int64           `gorm:"index;not null" json:"seq"` // global insertion order
	ShopID             string          `gorm:"type:varchar(36);index:idx_txn_shop_date,priority:1;not null" json:"shop_id"`
	ProviderID         string          `gorm:"type:varchar(36);index;not null" json:"provider_id"`
	RecordedBy         string          `gorm:"type:varchar(36);index" json:"recorded_by"`
	Category           Category        `gorm:"type:varchar(16);not null" json:"category"`
	Type               TransactionType `gorm:"type:varchar(32);not null" json:"type"`
	Amount             decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Commission         decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"commission"`
	Reference          string          `gorm:"type:varchar(128);not null" json:"reference"`
	CustomerIdentifier string          `gorm:"type:varchar(128);not null" json:"customer_identifier"`
	ReceiptImageURL    string          `gorm:"type:varchar(512)" json:"receipt_image_url,omitempty"`
	Notes              string          `gorm:"type:text" json:"notes,omitempty"`
	ReversalOf         *string         `gorm:"type:varchar(36);uniqueIndex" json:"reversal_of,omitempty"`
	TransactionDate    time.Time       `gorm:"index:idx_txn_shop_date,priority:2;not null" json:"transaction_date"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

func (t *Transaction) IsReversal() bool {
	return t.ReversalOf != nil
}

// Delta is the balance change this row contributes to the fold.
func (t *Transaction) Delta() BalanceDelta {
	effect, ok := EffectOf(t.Category, t.Type)
	if !ok {
		return BalanceDelta{}
	}
	delta := BalanceDelta{
		Float:        effect.Float.Apply(t.Amount),
		Cash:         effect.Cash.Apply(t.Amount),
		TouchesFloat: effect.Float != EffectNone,
		TouchesCash:  effect.Cash != EffectNone,
	}
	if t.IsReversal() {
		return delta.Neg()
	}
	return delta
}
