package repository

import (
	"context"
	"errors"
	"time"

	"agentledger/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NegativeBalancePolicy decides what happens when a write would leave a
// balance below zero.
type NegativeBalancePolicy string

const (
	NegativeBalanceAllow  NegativeBalancePolicy = "allow"
	NegativeBalanceFlag   NegativeBalancePolicy = "flag"
	NegativeBalanceReject NegativeBalancePolicy = "reject"
)

// ============================================================================
// Balance store
// ============================================================================
//
// Every write is read-modify-write on one row inside the caller's
// transaction:
//
//   SELECT ... FOR UPDATE            -- row lock (ignored by sqlite)
//   new = balance + delta            -- decimal arithmetic in Go
//   UPDATE ... SET balance = new, version = version + 1
//       WHERE id = ? AND version = ? -- optimistic check
//
// A zero RowsAffected means another writer got in between and surfaces as
// ErrOptimisticLock; the ledger service retries the whole unit of work.
// ============================================================================

type BalanceRepository struct {
	db     *gorm.DB
	policy NegativeBalancePolicy
}

func NewBalanceRepository(db *gorm.DB, policy NegativeBalancePolicy) *BalanceRepository {
	if policy == "" {
		policy = NegativeBalanceFlag
	}
	return &BalanceRepository{db: db, policy: policy}
}

func (r *BalanceRepository) Policy() NegativeBalancePolicy {
	return r.policy
}

func (r *BalanceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// ---------------------------------------------------------------------------
// float
// ---------------------------------------------------------------------------

func (r *BalanceRepository) getFloatForUpdate(ctx context.Context, tx *gorm.DB, shopID, providerID string, category model.Category) (*model.FloatBalance, error) {
	var row model.FloatBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND provider_id = ? AND category = ?", shopID, providerID, category).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &row, nil
}

// GetOrCreateFloat returns the float row for the key, inserting it with the
// seed balance if it does not exist yet.
func (r *BalanceRepository) GetOrCreateFloat(ctx context.Context, tx *gorm.DB, shopID, providerID string, category model.Category, seed decimal.Decimal) (*model.FloatBalance, error) {
	db := r.conn(tx).WithContext(ctx)

	row := &model.FloatBalance{
		ID:          uuid.NewString(),
		ShopID:      shopID,
		ProviderID:  providerID,
		Category:    category,
		Balance:     seed.Round(2),
		LastUpdated: time.Now().UTC(),
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}, {Name: "provider_id"}, {Name: "category"}},
		DoNothing: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	var existing model.FloatBalance
	err = db.Where("shop_id = ? AND provider_id = ? AND category = ?", shopID, providerID, category).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// AdjustFloat adds delta to the float balance of (shopID, providerID,
// category). The row must exist.
func (r *BalanceRepository) AdjustFloat(ctx context.Context, tx *gorm.DB, shopID, providerID string, category model.Category, delta decimal.Decimal) (*model.BalanceChange, error) {
	tx = r.conn(tx)
	row, err := r.getFloatForUpdate(ctx, tx, shopID, providerID, category)
	if err != nil {
		return nil, err
	}

	change, err := r.apply(row.Balance, delta)
	if err != nil {
		return nil, err
	}

	result := tx.WithContext(ctx).
		Model(&model.FloatBalance{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(map[string]interface{}{
			"balance":      change.Current,
			"version":      gorm.Expr("version + 1"),
			"last_updated": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}
	return change, nil
}

// ListFloat returns a shop's float rows, optionally narrowed to one
// provider and/or category.
func (r *BalanceRepository) ListFloat(ctx context.Context, tx *gorm.DB, shopID, providerID string, category model.Category) ([]*model.FloatBalance, error) {
	q := r.conn(tx).WithContext(ctx).Where("shop_id = ?", shopID)
	if providerID != "" {
		q = q.Where("provider_id = ?", providerID)
	}
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var rows []*model.FloatBalance
	err := q.Order("category ASC, provider_id ASC").Find(&rows).Error
	return rows, err
}

// OverwriteFloat sets the float balance to an absolute value. Only the
// rebuild path uses it; everything else goes through AdjustFloat.
func (r *BalanceRepository) OverwriteFloat(ctx context.Context, tx *gorm.DB, shopID, providerID string, category model.Category, balance decimal.Decimal) (*model.BalanceChange, error) {
	tx = r.conn(tx)
	row, err := r.getFloatForUpdate(ctx, tx, shopID, providerID, category)
	if err != nil {
		return nil, err
	}
	balance = balance.Round(2)
	result := tx.WithContext(ctx).
		Model(&model.FloatBalance{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(map[string]interface{}{
			"balance":      balance,
			"version":      gorm.Expr("version + 1"),
			"last_updated": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}
	return &model.BalanceChange{Previous: row.Balance, Current: balance, Change: balance.Sub(row.Balance)}, nil
}

// ---------------------------------------------------------------------------
// cash
// ---------------------------------------------------------------------------

func (r *BalanceRepository) getCashForUpdate(ctx context.Context, tx *gorm.DB, shopID string) (*model.CashBalance, error) {
	var row model.CashBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ?", shopID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *BalanceRepository) GetOrCreateCash(ctx context.Context, tx *gorm.DB, shopID string) (*model.CashBalance, error) {
	db := r.conn(tx).WithContext(ctx)

	row := &model.CashBalance{
		ID:             uuid.NewString(),
		ShopID:         shopID,
		Balance:        decimal.Zero,
		OpeningBalance: decimal.Zero,
		LastUpdated:    time.Now().UTC(),
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shop_id"}},
		DoNothing: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	return r.GetCash(ctx, tx, shopID)
}

func (r *BalanceRepository) GetCash(ctx context.Context, tx *gorm.DB, shopID string) (*model.CashBalance, error) {
	var row model.CashBalance
	err := r.conn(tx).WithContext(ctx).Where("shop_id = ?", shopID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *BalanceRepository) AdjustCash(ctx context.Context, tx *gorm.DB, shopID string, delta decimal.Decimal) (*model.BalanceChange, error) {
	tx = r.conn(tx)
	row, err := r.getCashForUpdate(ctx, tx, shopID)
	if err != nil {
		return nil, err
	}

	change, err := r.apply(row.Balance, delta)
	if err != nil {
		return nil, err
	}

	if err := r.updateCash(ctx, tx, row, map[string]interface{}{"balance": change.Current}); err != nil {
		return nil, err
	}
	return change, nil
}

// SetCashOpening moves the opening balance and shifts the balance by the
// same amount, so the fold over the journal still matches.
func (r *BalanceRepository) SetCashOpening(ctx context.Context, tx *gorm.DB, shopID string, opening decimal.Decimal) (*model.BalanceChange, decimal.Decimal, error) {
	tx = r.conn(tx)
	row, err := r.getCashForUpdate(ctx, tx, shopID)
	if err != nil {
		return nil, decimal.Zero, err
	}

	opening = opening.Round(2)
	shift := opening.Sub(row.OpeningBalance)
	change, err := r.apply(row.Balance, shift)
	if err != nil {
		return nil, decimal.Zero, err
	}

	err = r.updateCash(ctx, tx, row, map[string]interface{}{
		"balance":         change.Current,
		"opening_balance": opening,
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	return change, row.OpeningBalance, nil
}

func (r *BalanceRepository) OverwriteCash(ctx context.Context, tx *gorm.DB, shopID string, balance decimal.Decimal) (*model.BalanceChange, error) {
	tx = r.conn(tx)
	row, err := r.getCashForUpdate(ctx, tx, shopID)
	if err != nil {
		return nil, err
	}
	balance = balance.Round(2)
	if err := r.updateCash(ctx, tx, row, map[string]interface{}{"balance": balance}); err != nil {
		return nil, err
	}
	return &model.BalanceChange{Previous: row.Balance, Current: balance, Change: balance.Sub(row.Balance)}, nil
}

func (r *BalanceRepository) updateCash(ctx context.Context, tx *gorm.DB, row *model.CashBalance, values map[string]interface{}) error {
	values["version"] = gorm.Expr("version + 1")
	values["last_updated"] = time.Now().UTC()

	result := tx.WithContext(ctx).
		Model(&model.CashBalance{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// apply computes the new balance and enforces the negative balance policy.
// Reject only refuses a change that lowers a balance below zero; a deposit
// into an already negative balance is always accepted.
func (r *BalanceRepository) apply(previous, delta decimal.Decimal) (*model.BalanceChange, error) {
	delta = delta.Round(2)
	current := previous.Add(delta)
	change := &model.BalanceChange{Previous: previous, Current: current, Change: delta}

	if current.IsNegative() {
		switch r.policy {
		case NegativeBalanceReject:
			if delta.IsNegative() {
				return nil, ErrNegativeBalance
			}
		case NegativeBalanceFlag:
			change.Flagged = true
		}
	}
	return change, nil
}
