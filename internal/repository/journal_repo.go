package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"agentledger/internal/model"
	"agentledger/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JournalRepository is the append-only store of transactions, float
// movements and balance adjustments. Financial columns are written once;
// only the annotation columns of transactions and float movements are ever
// updated.
type JournalRepository struct {
	db *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

func (r *JournalRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// ---------------------------------------------------------------------------
// append
// ---------------------------------------------------------------------------

func (r *JournalRepository) AppendTransaction(ctx context.Context, tx *gorm.DB, row *model.Transaction) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.TransactionNo == "" {
		row.TransactionNo = idgen.GenerateTransactionNo()
	}
	row.Seq = idgen.NextID()
	row.TransactionDate = row.TransactionDate.UTC()
	return r.conn(tx).WithContext(ctx).Create(row).Error
}

func (r *JournalRepository) AppendFloatMovement(ctx context.Context, tx *gorm.DB, row *model.FloatMovement) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.MovementNo == "" {
		row.MovementNo = idgen.GenerateFloatMovementNo()
	}
	row.Seq = idgen.NextID()
	row.TransactionDate = row.TransactionDate.UTC()
	return r.conn(tx).WithContext(ctx).Create(row).Error
}

func (r *JournalRepository) AppendAdjustment(ctx context.Context, tx *gorm.DB, row *model.BalanceAdjustment) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.AdjustmentNo == "" {
		row.AdjustmentNo = idgen.GenerateAdjustmentNo()
	}
	row.Seq = idgen.NextID()
	row.TransactionDate = row.TransactionDate.UTC()
	return r.conn(tx).WithContext(ctx).Create(row).Error
}

// ---------------------------------------------------------------------------
// lookup
// ---------------------------------------------------------------------------

func (r *JournalRepository) GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	var row model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *JournalRepository) GetFloatMovement(ctx context.Context, tx *gorm.DB, id string) (*model.FloatMovement, error) {
	var row model.FloatMovement
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrFloatMovementNotFound
		}
		return nil, err
	}
	return &row, nil
}

// FindTransactionReversal returns the row reversing id, or nil if it has
// not been reversed.
func (r *JournalRepository) FindTransactionReversal(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	var row model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("reversal_of = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *JournalRepository) FindFloatMovementReversal(ctx context.Context, tx *gorm.DB, id string) (*model.FloatMovement, error) {
	var row model.FloatMovement
	err := r.conn(tx).WithContext(ctx).Where("reversal_of = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ---------------------------------------------------------------------------
// annotations
// ---------------------------------------------------------------------------

// Annotations carries the columns that may change after insert. Nil fields
// are left alone.
type Annotations struct {
	Notes           *string
	ReceiptImageURL *string
}

func (a Annotations) values() map[string]interface{} {
	values := make(map[string]interface{}, 2)
	if a.Notes != nil {
		values["notes"] = *a.Notes
	}
	if a.ReceiptImageURL != nil {
		values["receipt_image_url"] = *a.ReceiptImageURL
	}
	return values
}

func (r *JournalRepository) UpdateTransactionAnnotations(ctx context.Context, tx *gorm.DB, id string, a Annotations) error {
	values := a.values()
	if len(values) == 0 {
		return nil
	}
	result := r.conn(tx).WithContext(ctx).Model(&model.Transaction{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *JournalRepository) UpdateFloatMovementAnnotations(ctx context.Context, tx *gorm.DB, id string, a Annotations) error {
	values := a.values()
	if len(values) == 0 {
		return nil
	}
	result := r.conn(tx).WithContext(ctx).Model(&model.FloatMovement{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrFloatMovementNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// replay
// ---------------------------------------------------------------------------

// ListForReplay returns every journal row of a shop matching q, merged and
// ordered by transaction date, ties broken by insertion sequence.
//
// Cash adjustments carry no provider, so a query narrowed to a provider or
// category only sees float adjustments.
func (r *JournalRepository) ListForReplay(ctx context.Context, tx *gorm.DB, q JournalQuery) ([]model.JournalEntry, error) {
	db := r.conn(tx).WithContext(ctx)
	scope := func(d *gorm.DB) *gorm.DB {
		d = d.Where("shop_id = ?", q.ShopID)
		if q.ProviderID != "" {
			d = d.Where("provider_id = ?", q.ProviderID)
		}
		if q.Category != "" {
			d = d.Where("category = ?", q.Category)
		}
		if q.From != nil {
			d = d.Where("transaction_date >= ?", q.From.UTC())
		}
		if q.To != nil {
			d = d.Where("transaction_date <= ?", q.To.UTC())
		}
		return d
	}

	var txns []*model.Transaction
	if err := db.Scopes(scope).Find(&txns).Error; err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	var movements []*model.FloatMovement
	if err := db.Scopes(scope).Find(&movements).Error; err != nil {
		return nil, fmt.Errorf("load float movements: %w", err)
	}
	var adjustments []*model.BalanceAdjustment
	if err := db.Scopes(scope).Find(&adjustments).Error; err != nil {
		return nil, fmt.Errorf("load adjustments: %w", err)
	}

	entries := make([]model.JournalEntry, 0, len(txns)+len(movements)+len(adjustments))
	for _, t := range txns {
		entries = append(entries, model.JournalEntry{
			Kind: model.EntryKindTransaction, Seq: t.Seq, TransactionDate: t.TransactionDate, Transaction: t,
		})
	}
	for _, m := range movements {
		entries = append(entries, model.JournalEntry{
			Kind: model.EntryKindFloatMovement, Seq: m.Seq, TransactionDate: m.TransactionDate, FloatMovement: m,
		})
	}
	for _, a := range adjustments {
		entries = append(entries, model.JournalEntry{
			Kind: model.EntryKindAdjustment, Seq: a.Seq, TransactionDate: a.TransactionDate, Adjustment: a,
		})
	}
	slices.SortFunc(entries, func(a, b model.JournalEntry) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
	return entries, nil
}

// ---------------------------------------------------------------------------
// paginated views
// ---------------------------------------------------------------------------

var transactionSortColumns = map[string]string{
	"transaction_date": "transaction_date",
	"amount":           "amount",
	"created_at":       "created_at",
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func (r *JournalRepository) ListTransactions(ctx context.Context, f TransactionFilter) (*TransactionPage, error) {
	page, limit := normalizePage(f.Page, f.Limit)

	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("shop_id = ?", f.ShopID)
		if f.Category != "" {
			q = q.Where("category = ?", f.Category)
		}
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
		if f.ProviderID != "" {
			q = q.Where("provider_id = ?", f.ProviderID)
		}
		if f.RecordedBy != "" {
			q = q.Where("recorded_by = ?", f.RecordedBy)
		}
		if f.From != nil {
			q = q.Where("transaction_date >= ?", f.From.UTC())
		}
		if f.To != nil {
			q = q.Where("transaction_date <= ?", f.To.UTC())
		}
		if f.MinAmount != nil {
			q = q.Where("amount >= ?", *f.MinAmount)
		}
		if f.MaxAmount != nil {
			q = q.Where("amount <= ?", *f.MaxAmount)
		}
		if f.Search != "" {
			pattern := "%" + strings.ToLower(f.Search) + "%"
			q = q.Where("LOWER(reference) LIKE ? OR LOWER(customer_identifier) LIKE ?", pattern, pattern)
		}
		return q
	}

	var totals struct {
		Cnt        int64
		Amount     decimal.NullDecimal
		Commission decimal.NullDecimal
	}
	err := base().
		Select("COUNT(*) AS cnt, SUM(amount) AS amount, SUM(commission) AS commission").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("summarise transactions: %w", err)
	}

	column, ok := transactionSortColumns[f.SortBy]
	if !ok {
		column = "transaction_date"
	}
	direction := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		direction = "ASC"
	}

	var items []*model.Transaction
	err = base().
		Order(column + " " + direction).
		Order("seq " + direction).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	return &TransactionPage{
		Items:      items,
		Pagination: newPagination(page, limit, totals.Cnt),
		Summary: TransactionSummary{
			TotalAmount:      totals.Amount.Decimal.Round(2),
			TotalCommission:  totals.Commission.Decimal.Round(2),
			TransactionCount: totals.Cnt,
		},
	}, nil
}

func (r *JournalRepository) ListFloatMovements(ctx context.Context, f FloatMovementFilter) (*FloatMovementPage, error) {
	page, limit := normalizePage(f.Page, f.Limit)

	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&model.FloatMovement{}).Where("shop_id = ?", f.ShopID)
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
		if f.Category != "" {
			q = q.Where("category = ?", f.Category)
		}
		if f.ProviderID != "" {
			q = q.Where("provider_id = ?", f.ProviderID)
		}
		if f.SuperAgentID != "" {
			q = q.Where("super_agent_id = ?", f.SuperAgentID)
		}
		if f.From != nil {
			q = q.Where("transaction_date >= ?", f.From.UTC())
		}
		if f.To != nil {
			q = q.Where("transaction_date <= ?", f.To.UTC())
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count float movements: %w", err)
	}

	var items []*model.FloatMovement
	err := base().
		Order("transaction_date DESC").
		Order("seq DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list float movements: %w", err)
	}

	return &FloatMovementPage{Items: items, Pagination: newPagination(page, limit, total)}, nil
}
