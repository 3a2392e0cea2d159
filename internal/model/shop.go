package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category separates mobile-money business from bank business.
type Category string

const (
	CategoryMobile Category = "mobile"
	CategoryBank   Category = "bank"
)

func (c Category) Valid() bool {
	return c == CategoryMobile || c == CategoryBank
}

// Shop is the tenant boundary. Every provider, super agent, balance and
// journal row belongs to exactly one shop.
type Shop struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Location  string    `gorm:"type:varchar(256);not null" json:"location"`
	OwnerID   string    `gorm:"type:varchar(36);index" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Shop) TableName() string {
	return "shops"
}

// Provider is a mobile-money operator or bank the shop holds float with.
// OpeningBalance seeds the float balance for (shop, provider, category).
type Provider struct {
	ID             string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	ShopID         string          `gorm:"type:varchar(36);index;not null" json:"shop_id"`
	Name           string          `gorm:"type:varchar(128);not null" json:"name"`
	Category       Category        `gorm:"type:varchar(16);not null" json:"category"`
	AgentCode      string          `gorm:"type:varchar(64)" json:"agent_code"`
	OpeningBalance decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0" json:"opening_balance"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Provider) TableName() string {
	return "providers"
}

// SuperAgent is the upstream counterparty for float top-ups and withdrawals.
type SuperAgent struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ShopID    string    `gorm:"type:varchar(36);index;not null" json:"shop_id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Reference string    `gorm:"type:varchar(128);not null" json:"reference"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SuperAgent) TableName() string {
	return "super_agents"
}
