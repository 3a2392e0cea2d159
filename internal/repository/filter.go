package repository

import (
	"time"

	"agentledger/internal/model"

	"github.com/shopspring/decimal"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination mirrors the page/limit query parameters of the list endpoints.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
	TotalPages int64 `json:"total_pages"`
}

func newPagination(page, limit int, total int64) Pagination {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	return Pagination{Page: page, Limit: limit, TotalItems: total, TotalPages: pages}
}

// TransactionFilter narrows a shop's transaction list. Zero values mean
// "no filter".
type TransactionFilter struct {
	ShopID     string
	Category   model.Category
	Type       model.TransactionType
	ProviderID string
	RecordedBy string
	From       *time.Time
	To         *time.Time
	MinAmount  *decimal.Decimal
	MaxAmount  *decimal.Decimal
	Search     string // substring of reference or customer identifier
	SortBy     string // transaction_date, amount, created_at
	SortOrder  string // asc, desc
	Page       int
	Limit      int
}

type TransactionSummary struct {
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	TransactionCount int64           `json:"transaction_count"`
}

type TransactionPage struct {
	Items      []*model.Transaction `json:"items"`
	Pagination Pagination           `json:"pagination"`
	Summary    TransactionSummary   `json:"summary"`
}

type FloatMovementFilter struct {
	ShopID       string
	Type         model.FloatOperationType
	Category     model.Category
	ProviderID   string
	SuperAgentID string
	From         *time.Time
	To           *time.Time
	Page         int
	Limit        int
}

type FloatMovementPage struct {
	Items      []*model.FloatMovement `json:"items"`
	Pagination Pagination             `json:"pagination"`
}

// JournalQuery selects the replay stream for one shop.
type JournalQuery struct {
	ShopID     string
	ProviderID string
	Category   model.Category
	From       *time.Time
	To         *time.Time
}
