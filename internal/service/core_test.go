package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentledger/internal/config"
	"agentledger/internal/infrastructure/lock"
	"agentledger/internal/model"
	"agentledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestCore(f *fixture, maxRetries int) *core {
	cfg := config.Default().Ledger
	cfg.MaxRetries = maxRetries
	cfg.RetryBaseDelay = time.Millisecond
	return newCore(f.db, nil, &cfg, nil)
}

func insertGhostShop(tx *gorm.DB) error {
	return tx.Create(&model.Shop{ID: "ghost-shop", Name: "ghost", Location: "nowhere"}).Error
}

func (f *fixture) ghostShops(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Shop{}).Where("id = ?", "ghost-shop").Count(&n).Error)
	return n
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	c := newTestCore(f, 2)

	calls := 0
	err := c.run(context.Background(), []string{lock.CashKey(f.shop.ID)}, func(tx *gorm.DB) error {
		calls++
		if err := insertGhostShop(tx); err != nil {
			return err
		}
		return repository.ErrOptimisticLock
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrency)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 3, calls, "first attempt plus max_retries")
	assert.Zero(t, f.ghostShops(t))
}

func TestRunRetriesOptimisticConflicts(t *testing.T) {
	f := newFixture(t)
	c := newTestCore(f, 5)

	calls := 0
	err := c.run(context.Background(), []string{lock.CashKey(f.shop.ID)}, func(tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return repository.ErrOptimisticLock
		}
		return insertGhostShop(tx)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.EqualValues(t, 1, f.ghostShops(t))
}

func TestRunDoesNotRetryOtherErrors(t *testing.T) {
	f := newFixture(t)
	c := newTestCore(f, 5)
	boom := errors.New("boom")

	calls := 0
	err := c.run(context.Background(), nil, func(tx *gorm.DB) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRunCancelledBeforeCommitPersistsNothing(t *testing.T) {
	f := newFixture(t)
	c := newTestCore(f, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := c.run(ctx, []string{lock.CashKey(f.shop.ID)}, func(tx *gorm.DB) error {
		if err := insertGhostShop(tx); err != nil {
			return err
		}
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.ghostShops(t))
}

func TestRecordWithCancelledContextPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ledger.RecordTransaction(ctx, &RecordTransactionRequest{
		ShopID:             f.shop.ID,
		ProviderID:         f.mobile.ID,
		Category:           model.CategoryMobile,
		Type:               model.TransactionTypeDeposit,
		Amount:             decimal.NewFromInt(100),
		Reference:          "REF-1",
		CustomerIdentifier: "0712345678",
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.count(t, &model.Transaction{}))

	snap := f.balances(t)
	assertDecimal(t, "1000", f.floatOf(t, snap, f.mobile.ID))
	assertDecimal(t, "0", snap.CashBalance.Balance)
}

func TestHeldBalanceKeyTimesOut(t *testing.T) {
	locker := lock.NewLocalLocker(30 * time.Millisecond)
	f := newFixture(t, withLocker(locker))
	ctx := context.Background()

	t.Run("transaction", func(t *testing.T) {
		release, err := locker.Acquire(ctx, lock.CashKey(f.shop.ID))
		require.NoError(t, err)
		defer release()

		_, err = f.ledger.RecordTransaction(ctx, &RecordTransactionRequest{
			ShopID:             f.shop.ID,
			ProviderID:         f.mobile.ID,
			Category:           model.CategoryMobile,
			Type:               model.TransactionTypeDeposit,
			Amount:             decimal.NewFromInt(100),
			Reference:          "REF-1",
			CustomerIdentifier: "0712345678",
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConcurrency)
		assert.ErrorIs(t, err, lock.ErrLockTimeout)
		assert.True(t, IsRetryable(err))
		assert.Zero(t, f.count(t, &model.Transaction{}))
	})

	t.Run("float movement", func(t *testing.T) {
		key := lock.FloatKey(f.shop.ID, f.mobile.ID, string(model.CategoryMobile))
		release, err := locker.Acquire(ctx, key)
		require.NoError(t, err)
		defer release()

		_, err = f.ledger.RecordFloatMovement(ctx, &RecordFloatMovementRequest{
			ShopID:       f.shop.ID,
			Type:         model.FloatOperationTopUp,
			ProviderID:   f.mobile.ID,
			SuperAgentID: f.agent.ID,
			Category:     model.CategoryMobile,
			Amount:       decimal.NewFromInt(100),
			Reference:    "FLT-1",
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConcurrency)
		assert.True(t, IsRetryable(err))
		assert.Zero(t, f.count(t, &model.FloatMovement{}))
	})

	// neither attempt moved a balance
	snap := f.balances(t)
	assertDecimal(t, "1000", f.floatOf(t, snap, f.mobile.ID))
	assertDecimal(t, "0", snap.CashBalance.Balance)

	// the key is usable again once the holder lets go
	f.transaction(t, model.TransactionTypeDeposit, 100, 0)
}

func TestLedgerReportsNegativeBalancePolicy(t *testing.T) {
	f := newFixture(t, withPolicy(config.NegativeBalanceReject))
	assert.Equal(t, repository.NegativeBalancePolicy(config.NegativeBalanceReject), f.ledger.NegativeBalancePolicy())
}
