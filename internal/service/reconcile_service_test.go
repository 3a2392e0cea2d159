package service

import (
	"context"
	"testing"

	"agentledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) corruptFloat(t *testing.T, providerID string, balance int64) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.FloatBalance{}).
		Where("shop_id = ? AND provider_id = ?", f.shop.ID, providerID).
		Update("balance", decimal.NewFromInt(balance)).Error)
}

func (f *fixture) corruptCash(t *testing.T, balance int64) {
	t.Helper()
	require.NoError(t, f.db.Model(&model.CashBalance{}).
		Where("shop_id = ?", f.shop.ID).
		Update("balance", decimal.NewFromInt(balance)).Error)
}

func TestRecomputeMatchesStoredBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.floatMovement(t, model.FloatOperationTopUp, 500, false)
	f.floatMovement(t, model.FloatOperationWithdraw, 120, false)
	f.floatMovement(t, model.FloatOperationTopUp, 80, true)
	f.transaction(t, model.TransactionTypeDeposit, 200, 10)
	f.transaction(t, model.TransactionTypeWithdrawal, 75, 2)
	f.transaction(t, model.TransactionTypeBankDeposit, 1000, 0)
	f.transaction(t, model.TransactionTypeWalletToAccount, 300, 0)
	rev := f.transaction(t, model.TransactionTypeTV, 60, 0)
	_, err := f.ledger.ReverseTransaction(ctx, rev.Transaction.ID, "supervisor", "void")
	require.NoError(t, err)
	_, err = f.ledger.AdjustCash(ctx, &AdjustCashRequest{ShopID: f.shop.ID, AdjustmentType: CashAdjustAdd, Amount: decimal.RequireFromString("12.50")})
	require.NoError(t, err)

	computed, err := f.reconcile.Recompute(ctx, f.shop.ID, "", "")
	require.NoError(t, err)
	assert.True(t, computed.IncludeCash)
	assert.Equal(t, 10, computed.Entries)

	snap := f.balances(t)
	for _, fb := range snap.FloatBalances {
		balance, ok := computed.Float(fb.ProviderID, fb.Category)
		require.True(t, ok)
		assertDecimal(t, fb.Balance.String(), balance)
	}
	assertDecimal(t, snap.CashBalance.Balance.String(), computed.Cash)

	// 1000 + 500 - 120 + 80 - 200 + 75
	mobile, ok := computed.Float(f.mobile.ID, model.CategoryMobile)
	require.True(t, ok)
	assertDecimal(t, "1335", mobile)

	narrowed, err := f.reconcile.Recompute(ctx, f.shop.ID, f.bank.ID, "")
	require.NoError(t, err)
	assert.False(t, narrowed.IncludeCash)
	require.Len(t, narrowed.Floats, 1)
	assertDecimal(t, "4300", narrowed.Floats[0].Balance)

	_, err = f.reconcile.Recompute(ctx, "missing", "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyReportsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.floatMovement(t, model.FloatOperationTopUp, 500, false)
	f.corruptFloat(t, f.mobile.ID, 1600)
	f.corruptCash(t, 1000)

	drifts, err := f.reconcile.Verify(ctx, f.shop.ID)
	require.NoError(t, err)
	require.Len(t, drifts, 2)

	byTarget := map[model.AdjustmentTarget]model.Drift{}
	for _, d := range drifts {
		byTarget[d.Target] = d
	}
	floatDrift := byTarget[model.AdjustmentTargetFloat]
	assert.Equal(t, f.mobile.ID, floatDrift.ProviderID)
	assertDecimal(t, "1600", floatDrift.Stored)
	assertDecimal(t, "1500", floatDrift.Computed)
	assertDecimal(t, "100", floatDrift.Difference)
	assert.Equal(t, model.SeverityLow, floatDrift.Severity)

	cashDrift := byTarget[model.AdjustmentTargetCash]
	assertDecimal(t, "1500", cashDrift.Difference)
	assert.Equal(t, model.SeverityHigh, cashDrift.Severity)

	// verify is read only
	snap := f.balances(t)
	assertDecimal(t, "1600", f.floatOf(t, snap, f.mobile.ID))
}

func TestReconcileAppendsAdjustments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.floatMovement(t, model.FloatOperationTopUp, 500, false)
	f.corruptFloat(t, f.mobile.ID, 1450)

	drifts, err := f.reconcile.Reconcile(ctx, f.shop.ID, "auditor", "month end count")
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assertDecimal(t, "-50", drifts[0].Difference)

	var adjustments []model.BalanceAdjustment
	require.NoError(t, f.db.Where("shop_id = ? AND source = ?", f.shop.ID, model.AdjustmentSourceReconciliation).Find(&adjustments).Error)
	require.Len(t, adjustments, 1)
	assert.Equal(t, model.AdjustmentTargetFloat, adjustments[0].Target)
	assert.Equal(t, f.mobile.ID, adjustments[0].ProviderID)
	assertDecimal(t, "-50", adjustments[0].Delta)
	assert.Equal(t, "month end count", adjustments[0].Reason)

	// the stored balance is kept, the journal now explains it
	assertDecimal(t, "1450", f.floatOf(t, f.balances(t), f.mobile.ID))
	after, err := f.reconcile.Verify(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Empty(t, after)
	assert.Equal(t, model.AuditActionReconcile, lastOutboxAction(t, f, f.shop.ID))

	again, err := f.reconcile.Reconcile(ctx, f.shop.ID, "auditor", "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRebuildOverwritesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.floatMovement(t, model.FloatOperationTopUp, 500, false)
	f.transaction(t, model.TransactionTypeDeposit, 200, 10)
	f.corruptFloat(t, f.mobile.ID, 0)
	f.corruptCash(t, 999)

	drifts, err := f.reconcile.Rebuild(ctx, f.shop.ID, "auditor")
	require.NoError(t, err)
	assert.Len(t, drifts, 2)

	snap := f.balances(t)
	assertDecimal(t, "1300", f.floatOf(t, snap, f.mobile.ID))
	assertDecimal(t, "-300", snap.CashBalance.Balance)

	after, err := f.reconcile.Verify(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Empty(t, after)
	assert.Equal(t, model.AuditActionRebuild, lastOutboxAction(t, f, f.shop.ID))

	var reconciliations int64
	require.NoError(t, f.db.Model(&model.BalanceAdjustment{}).Where("source = ?", model.AdjustmentSourceReconciliation).Count(&reconciliations).Error)
	assert.Zero(t, reconciliations)
}

func TestRebuildCreatesMissingRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.floatMovement(t, model.FloatOperationWithdraw, 250, false)
	require.NoError(t, f.db.Where("shop_id = ?", f.shop.ID).Delete(&model.CashBalance{}).Error)
	require.NoError(t, f.db.Where("provider_id = ?", f.mobile.ID).Delete(&model.FloatBalance{}).Error)

	drifts, err := f.reconcile.Verify(ctx, f.shop.ID)
	require.NoError(t, err)
	require.Len(t, drifts, 2)
	for _, d := range drifts {
		assert.True(t, d.Stored.IsZero())
	}

	_, err = f.reconcile.Rebuild(ctx, f.shop.ID, "auditor")
	require.NoError(t, err)

	snap := f.balances(t)
	assertDecimal(t, "750", f.floatOf(t, snap, f.mobile.ID))
	assertDecimal(t, "250", snap.CashBalance.Balance)

	after, err := f.reconcile.Verify(ctx, f.shop.ID)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestVerifyAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.shops.CreateShop(ctx, &CreateShopRequest{Name: "Second", Location: "Arusha"})
	require.NoError(t, err)

	f.floatMovement(t, model.FloatOperationTopUp, 100, false)
	f.corruptCash(t, 5)

	report, err := f.reconcile.VerifyAll(ctx)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Len(t, report[f.shop.ID], 1)
	assert.NotContains(t, report, other.ID)
}
