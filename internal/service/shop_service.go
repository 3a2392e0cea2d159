package service

import (
	"context"
	"errors"
	"strings"

	"agentledger/internal/audit"
	"agentledger/internal/model"
	"agentledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ShopService manages the reference data the ledger posts against. Creating
// a shop or provider also creates the balance row it owns.
type ShopService struct {
	db          *gorm.DB
	shopRepo    *repository.ShopRepository
	balanceRepo *repository.BalanceRepository
	outboxRepo  *repository.OutboxRepository
	log         *zap.Logger
}

func NewShopService(db *gorm.DB, log *zap.Logger) *ShopService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ShopService{
		db:          db,
		shopRepo:    repository.NewShopRepository(db),
		balanceRepo: repository.NewBalanceRepository(db, repository.NegativeBalanceAllow),
		outboxRepo:  repository.NewOutboxRepository(db),
		log:         log.Named("shops"),
	}
}

func (s *ShopService) fail(op string, err error) error {
	err = classify(err)
	if errors.Is(err, ErrStorage) {
		s.log.Error(op+" failed", zap.Error(err))
	}
	return err
}

type CreateShopRequest struct {
	Name     string `json:"name" binding:"required"`
	Location string `json:"location" binding:"required"`
	OwnerID  string `json:"-"`
}

func (s *ShopService) CreateShop(ctx context.Context, req *CreateShopRequest) (*model.Shop, error) {
	name := strings.TrimSpace(req.Name)
	location := strings.TrimSpace(req.Location)
	if name == "" || location == "" {
		return nil, validationf("name and location are required")
	}

	shop := &model.Shop{
		ID:       uuid.NewString(),
		Name:     name,
		Location: location,
		OwnerID:  req.OwnerID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.shopRepo.CreateShop(ctx, tx, shop); err != nil {
			return err
		}
		if _, err := s.balanceRepo.GetOrCreateCash(ctx, tx, shop.ID); err != nil {
			return err
		}
		return enqueueAudit(ctx, tx, s.outboxRepo, model.AuditActionCreate, shop.ID, req.OwnerID, audit.EntityShop, shop.ID, shop)
	})
	if err != nil {
		return nil, s.fail("create shop", err)
	}

	s.log.Info("shop created", zap.String("shop_id", shop.ID), zap.String("name", shop.Name))
	return shop, nil
}

func (s *ShopService) GetShop(ctx context.Context, id string) (*model.Shop, error) {
	shop, err := s.shopRepo.GetShop(ctx, nil, id)
	if err != nil {
		return nil, s.fail("get shop", err)
	}
	return shop, nil
}

func (s *ShopService) ListShops(ctx context.Context) ([]*model.Shop, error) {
	shops, err := s.shopRepo.ListShops(ctx)
	if err != nil {
		return nil, s.fail("list shops", err)
	}
	return shops, nil
}

type CreateProviderRequest struct {
	ShopID         string          `json:"-"`
	CreatedBy      string          `json:"-"`
	Name           string          `json:"name" binding:"required"`
	Category       model.Category  `json:"category" binding:"required"`
	AgentCode      string          `json:"agent_code"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// CreateProvider registers a provider and seeds its float balance with the
// opening balance.
func (s *ShopService) CreateProvider(ctx context.Context, req *CreateProviderRequest) (*model.Provider, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationf("name and category are required")
	}
	if !req.Category.Valid() {
		return nil, validationf("unknown category %q, allowed: %s, %s", req.Category, model.CategoryMobile, model.CategoryBank)
	}
	opening, err := checkAmount("opening_balance", req.OpeningBalance, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, req.ShopID); err != nil {
		return nil, s.fail("create provider", err)
	}

	provider := &model.Provider{
		ID:             uuid.NewString(),
		ShopID:         req.ShopID,
		Name:           name,
		Category:       req.Category,
		AgentCode:      strings.TrimSpace(req.AgentCode),
		OpeningBalance: opening,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.shopRepo.CreateProvider(ctx, tx, provider); err != nil {
			return err
		}
		if _, err := s.balanceRepo.GetOrCreateFloat(ctx, tx, provider.ShopID, provider.ID, provider.Category, provider.OpeningBalance); err != nil {
			return err
		}
		return enqueueAudit(ctx, tx, s.outboxRepo, model.AuditActionCreate, provider.ShopID, req.CreatedBy, audit.EntityProvider, provider.ID, provider)
	})
	if err != nil {
		return nil, s.fail("create provider", err)
	}
	return provider, nil
}

func (s *ShopService) ListProviders(ctx context.Context, shopID string, category model.Category) ([]*model.Provider, error) {
	if category != "" && !category.Valid() {
		return nil, validationf("unknown category %q", category)
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, shopID); err != nil {
		return nil, s.fail("list providers", err)
	}
	providers, err := s.shopRepo.ListProviders(ctx, nil, shopID, category)
	if err != nil {
		return nil, s.fail("list providers", err)
	}
	return providers, nil
}

type CreateSuperAgentRequest struct {
	ShopID    string `json:"-"`
	CreatedBy string `json:"-"`
	Name      string `json:"name" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

func (s *ShopService) CreateSuperAgent(ctx context.Context, req *CreateSuperAgentRequest) (*model.SuperAgent, error) {
	name := strings.TrimSpace(req.Name)
	reference := strings.TrimSpace(req.Reference)
	if name == "" || reference == "" {
		return nil, validationf("missing required fields: name, reference")
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, req.ShopID); err != nil {
		return nil, s.fail("create super agent", err)
	}

	agent := &model.SuperAgent{
		ID:        uuid.NewString(),
		ShopID:    req.ShopID,
		Name:      name,
		Reference: reference,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.shopRepo.CreateSuperAgent(ctx, tx, agent); err != nil {
			return err
		}
		return enqueueAudit(ctx, tx, s.outboxRepo, model.AuditActionCreate, agent.ShopID, req.CreatedBy, audit.EntitySuperAgent, agent.ID, agent)
	})
	if err != nil {
		return nil, s.fail("create super agent", err)
	}
	return agent, nil
}

func (s *ShopService) ListSuperAgents(ctx context.Context, shopID string) ([]*model.SuperAgent, error) {
	if _, err := s.shopRepo.GetShop(ctx, nil, shopID); err != nil {
		return nil, s.fail("list super agents", err)
	}
	agents, err := s.shopRepo.ListSuperAgents(ctx, shopID)
	if err != nil {
		return nil, s.fail("list super agents", err)
	}
	return agents, nil
}

// FieldChange is one column of an update audit event.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// changeSet collects the text columns an update actually changes. Fields
// left nil in the request are not touched.
type changeSet struct {
	fields  map[string]interface{}
	changes map[string]FieldChange
}

func newChangeSet() *changeSet {
	return &changeSet{fields: map[string]interface{}{}, changes: map[string]FieldChange{}}
}

func (cs *changeSet) text(column string, current *string, next *string, required bool) error {
	if next == nil {
		return nil
	}
	value := strings.TrimSpace(*next)
	if required && value == "" {
		return validationf("%s must not be empty", column)
	}
	if value == *current {
		return nil
	}
	cs.changes[column] = FieldChange{From: *current, To: value}
	cs.fields[column] = value
	*current = value
	return nil
}

func (cs *changeSet) empty() bool { return len(cs.fields) == 0 }

func noFields(req ...*string) bool {
	for _, f := range req {
		if f != nil {
			return false
		}
	}
	return true
}

type UpdateShopRequest struct {
	UpdatedBy string  `json:"-"`
	Name      *string `json:"name"`
	Location  *string `json:"location"`
}

// UpdateShop renames or relocates a shop. Balances are not touched.
func (s *ShopService) UpdateShop(ctx context.Context, id string, req *UpdateShopRequest) (*model.Shop, error) {
	if noFields(req.Name, req.Location) {
		return nil, validationf("nothing to update, allowed fields: name, location")
	}

	var shop *model.Shop
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if shop, err = s.shopRepo.GetShop(ctx, tx, id); err != nil {
			return err
		}
		cs := newChangeSet()
		if err := cs.text("name", &shop.Name, req.Name, true); err != nil {
			return err
		}
		if err := cs.text("location", &shop.Location, req.Location, true); err != nil {
			return err
		}
		if cs.empty() {
			return nil
		}
		if err := s.shopRepo.UpdateShop(ctx, tx, shop, cs.fields); err != nil {
			return err
		}
		return enqueueAudit(ctx, tx, s.outboxRepo, model.AuditActionUpdate, shop.ID, req.UpdatedBy, audit.EntityShop, shop.ID, cs.changes)
	})
	if err != nil {
		return nil, s.fail("update shop", err)
	}
	return shop, nil
}

type UpdateProviderRequest struct {
	ShopID     string  `json:"-"`
	ProviderID string  `json:"-"`
	UpdatedBy  string  `json:"-"`
	Name       *string `json:"name"`
	AgentCode  *string `json:"agent_code"`
}

// UpdateProvider changes a provider's display fields. Category and opening
// balance are fixed once the provider exists.
func (s *ShopService) UpdateProvider(ctx context.Context, req *UpdateProviderRequest) (*model.Provider, error) {
	if noFields(req.Name, req.AgentCode) {
		return nil, validationf("nothing to update, allowed fields: name, agent_code")
	}

	var provider *model.Provider
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if provider, err = s.shopRepo.GetProvider(ctx, tx, req.ShopID, req.ProviderID); err != nil {
			return err
		}
		cs := newChangeSet()
		if err := cs.text("name", &provider.Name, req.Name, true); err != nil {
			return err
		}
		if err := cs.text("agent_code", &provider.AgentCode, req.AgentCode, false); err != nil {
			return err
		}
		if cs.empty() {
			return nil
		}
		if err := s.shopRepo.UpdateProvider(ctx, tx, provider, cs.fields); err != nil {
			return err
		}
		return enqueueAudit(ctx, tx, s.outboxRepo, model.AuditActionUpdate, provider.ShopID, req.UpdatedBy, audit.EntityProvider, provider.ID, cs.changes)
	})
	if err != nil {
		return nil, s.fail("update provider", err)
	}
	return provider, nil
}

func (s *ShopService) GetSuperAgent(ctx context.Context, shopID, agentID string) (*model.SuperAgent, error) {
	agent, err := s.shopRepo.GetSuperAgent(ctx, nil, shopID, agentID)
	if err != nil {
		return nil, s.fail("get super agent", err)
	}
	return agent, nil
}

type UpdateSuperAgentRequest struct {
	ShopID    string  `json:"-"`
	AgentID   string  `json:"-"`
	UpdatedBy string  `json:"-"`
	Name      *string `json:"name"`
	Reference *string `json:"reference"`
}

func (s *ShopService) UpdateSuperAgent(ctx context.Context, req *UpdateSuperAgentRequest) (*model.SuperAgent, error) {
	if noFields(req.Name, req.Reference) {
		return nil, validationf("nothing to update, allowed fields: name, reference")
	}

	var agent *model.SuperAgent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if agent, err = s.shopRepo.GetSuperAgent(ctx, tx, req.ShopID, req.AgentID); err != nil {
			return err
		}
		cs := newChangeSet()
		if err := cs.text("name", &agent.Name, req.Name, true); err != nil {
			return err
		}
		if err := cs.text("reference", &agent.Reference, req.Reference, true); err != nil {
			return err
		}
		if cs.empty() {
			return nil
		}
		if err := s.shopRepo.UpdateSuperAgent(ctx, tx, agent, cs.fields); err != nil {
			return err
		}
		return enqueueAudit(ctx, tx, s.outboxRepo, model.AuditActionUpdate, agent.ShopID, req.UpdatedBy, audit.EntitySuperAgent, agent.ID, cs.changes)
	})
	if err != nil {
		return nil, s.fail("update super agent", err)
	}
	return agent, nil
}
