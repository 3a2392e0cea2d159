package repository

import (
	"context"
	"errors"

	"agentledger/internal/model"

	"gorm.io/gorm"
)

// ShopRepository stores the reference data the ledger validates against:
// shops, their providers and their super agents.
type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

func (r *ShopRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *ShopRepository) CreateShop(ctx context.Context, tx *gorm.DB, shop *model.Shop) error {
	return r.conn(tx).WithContext(ctx).Create(shop).Error
}

func (r *ShopRepository) GetShop(ctx context.Context, tx *gorm.DB, id string) (*model.Shop, error) {
	var shop model.Shop
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrShopNotFound
		}
		return nil, err
	}
	return &shop, nil
}

func (r *ShopRepository) ListShops(ctx context.Context) ([]*model.Shop, error) {
	var shops []*model.Shop
	err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&shops).Error
	return shops, err
}

func (r *ShopRepository) ListShopIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Shop{}).Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *ShopRepository) CreateProvider(ctx context.Context, tx *gorm.DB, provider *model.Provider) error {
	return r.conn(tx).WithContext(ctx).Create(provider).Error
}

// GetProvider looks a provider up within a shop; a provider of another shop
// is reported as not found.
func (r *ShopRepository) GetProvider(ctx context.Context, tx *gorm.DB, shopID, providerID string) (*model.Provider, error) {
	var provider model.Provider
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND shop_id = ?", providerID, shopID).
		First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &provider, nil
}

func (r *ShopRepository) ListProviders(ctx context.Context, tx *gorm.DB, shopID string, category model.Category) ([]*model.Provider, error) {
	var providers []*model.Provider
	q := r.conn(tx).WithContext(ctx).Where("shop_id = ?", shopID)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	err := q.Order("name ASC, id ASC").Find(&providers).Error
	return providers, err
}

func (r *ShopRepository) CreateSuperAgent(ctx context.Context, tx *gorm.DB, agent *model.SuperAgent) error {
	return r.conn(tx).WithContext(ctx).Create(agent).Error
}

func (r *ShopRepository) GetSuperAgent(ctx context.Context, tx *gorm.DB, shopID, agentID string) (*model.SuperAgent, error) {
	var agent model.SuperAgent
	err := r.conn(tx).WithContext(ctx).
		Where("id = ? AND shop_id = ?", agentID, shopID).
		First(&agent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSuperAgentNotFound
		}
		return nil, err
	}
	return &agent, nil
}

func (r *ShopRepository) ListSuperAgents(ctx context.Context, shopID string) ([]*model.SuperAgent, error) {
	var agents []*model.SuperAgent
	err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("name ASC, id ASC").
		Find(&agents).Error
	return agents, err
}

// UpdateShop writes the given columns of an existing shop. Only the keys
// present in fields are touched; updated_at is maintained by gorm.
func (r *ShopRepository) UpdateShop(ctx context.Context, tx *gorm.DB, shop *model.Shop, fields map[string]interface{}) error {
	return r.update(ctx, tx, shop, fields)
}

// UpdateProvider never changes category or opening_balance: both are
// folded into the provider's float balance history.
func (r *ShopRepository) UpdateProvider(ctx context.Context, tx *gorm.DB, provider *model.Provider, fields map[string]interface{}) error {
	delete(fields, "category")
	delete(fields, "opening_balance")
	return r.update(ctx, tx, provider, fields)
}

func (r *ShopRepository) UpdateSuperAgent(ctx context.Context, tx *gorm.DB, agent *model.SuperAgent, fields map[string]interface{}) error {
	return r.update(ctx, tx, agent, fields)
}

func (r *ShopRepository) update(ctx context.Context, tx *gorm.DB, row interface{}, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Model(row).Updates(fields).Error
}
