package service

import (
	"context"
	"testing"

	"agentledger/internal/config"
	"agentledger/internal/infrastructure/lock"
	"agentledger/internal/model"
	"agentledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	shops     *ShopService
	ledger    *LedgerService
	reconcile *ReconcileService

	shop   *model.Shop
	mobile *model.Provider
	bank   *model.Provider
	agent  *model.SuperAgent
}

type fixtureOption func(*config.LedgerConfig, *lock.Locker)

func withPolicy(policy string) fixtureOption {
	return func(cfg *config.LedgerConfig, _ *lock.Locker) { cfg.NegativeBalancePolicy = policy }
}

func withLocker(l lock.Locker) fixtureOption {
	return func(_ *config.LedgerConfig, locker *lock.Locker) { *locker = l }
}

// newFixture seeds one shop with a mobile provider (opening 1000), a bank
// provider (opening 5000) and a super agent.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := config.Default().Ledger
	var locker lock.Locker
	for _, opt := range opts {
		opt(&cfg, &locker)
	}

	db := testutil.NewDB(t)
	f := &fixture{
		db:        db,
		shops:     NewShopService(db, nil),
		ledger:    NewLedgerService(db, locker, &cfg, nil),
		reconcile: NewReconcileService(db, locker, &cfg, nil),
	}

	ctx := context.Background()
	var err error
	f.shop, err = f.shops.CreateShop(ctx, &CreateShopRequest{Name: "Kariakoo Agent", Location: "Dar es Salaam", OwnerID: "owner-1"})
	require.NoError(t, err)
	f.mobile, err = f.shops.CreateProvider(ctx, &CreateProviderRequest{
		ShopID:         f.shop.ID,
		Name:           "M-Pesa",
		Category:       model.CategoryMobile,
		OpeningBalance: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	f.bank, err = f.shops.CreateProvider(ctx, &CreateProviderRequest{
		ShopID:         f.shop.ID,
		Name:           "CRDB",
		Category:       model.CategoryBank,
		OpeningBalance: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	f.agent, err = f.shops.CreateSuperAgent(ctx, &CreateSuperAgentRequest{ShopID: f.shop.ID, Name: "Upstream Ltd", Reference: "SA-001"})
	require.NoError(t, err)
	return f
}

func (f *fixture) transaction(t *testing.T, txType model.TransactionType, amount, commission int64) *TransactionResult {
	t.Helper()
	provider := f.mobile
	if _, ok := model.EffectOf(model.CategoryBank, txType); ok {
		provider = f.bank
	}
	res, err := f.ledger.RecordTransaction(context.Background(), &RecordTransactionRequest{
		ShopID:             f.shop.ID,
		RecordedBy:         "cashier-1",
		ProviderID:         provider.ID,
		Category:           provider.Category,
		Type:               txType,
		Amount:             decimal.NewFromInt(amount),
		Commission:         decimal.NewFromInt(commission),
		Reference:          "REF-" + string(txType),
		CustomerIdentifier: "0712345678",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) floatMovement(t *testing.T, op model.FloatOperationType, amount int64, newCapital bool) *FloatMovementResult {
	t.Helper()
	res, err := f.ledger.RecordFloatMovement(context.Background(), &RecordFloatMovementRequest{
		ShopID:       f.shop.ID,
		RecordedBy:   "cashier-1",
		Type:         op,
		ProviderID:   f.mobile.ID,
		SuperAgentID: f.agent.ID,
		Category:     model.CategoryMobile,
		Amount:       decimal.NewFromInt(amount),
		Reference:    "FLT-" + string(op),
		IsNewCapital: newCapital,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) balances(t *testing.T) *BalanceSnapshot {
	t.Helper()
	snap, err := f.ledger.GetBalances(context.Background(), f.shop.ID, "", "")
	require.NoError(t, err)
	return snap
}

func (f *fixture) floatOf(t *testing.T, snap *BalanceSnapshot, providerID string) decimal.Decimal {
	t.Helper()
	for _, fb := range snap.FloatBalances {
		if fb.ProviderID == providerID {
			return fb.Balance
		}
	}
	t.Fatalf("no float balance for provider %s", providerID)
	return decimal.Zero
}

func (f *fixture) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Where("shop_id = ?", f.shop.ID).Count(&n).Error)
	return n
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}
