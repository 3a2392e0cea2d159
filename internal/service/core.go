package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentledger/internal/audit"
	"agentledger/internal/config"
	"agentledger/internal/infrastructure/lock"
	"agentledger/internal/model"
	"agentledger/internal/repository"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxRetryDelay = time.Second

// core is the write path shared by the ledger and reconciliation services:
// take the balance key locks, run one database transaction, retry on
// optimistic conflicts.
type core struct {
	db             *gorm.DB
	locker         lock.Locker
	shopRepo       *repository.ShopRepository
	balanceRepo    *repository.BalanceRepository
	journalRepo    *repository.JournalRepository
	outboxRepo     *repository.OutboxRepository
	maxRetries     int
	retryBaseDelay time.Duration
	log            *zap.Logger
}

func newCore(db *gorm.DB, locker lock.Locker, cfg *config.LedgerConfig, log *zap.Logger) *core {
	if log == nil {
		log = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocalLocker(cfg.LockTimeout)
	}
	return &core{
		db:             db,
		locker:         locker,
		shopRepo:       repository.NewShopRepository(db),
		balanceRepo:    repository.NewBalanceRepository(db, repository.NegativeBalancePolicy(cfg.NegativeBalancePolicy)),
		journalRepo:    repository.NewJournalRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: cfg.RetryBaseDelay,
		log:            log,
	}
}

// run executes fn as one unit of work under the given lock keys. fn may be
// called more than once and must not keep state between calls.
func (c *core) run(ctx context.Context, keys []string, fn func(tx *gorm.DB) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBaseDelay
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0))), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := c.runOnce(ctx, keys, fn)
		if err == nil || errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(_ error, wait time.Duration) {
		c.log.Debug("optimistic lock conflict, retrying",
			zap.Strings("keys", keys),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
	})
	if errors.Is(err, repository.ErrOptimisticLock) {
		return fmt.Errorf("%w: gave up after %d attempts: %w", ErrConcurrency, attempts, err)
	}
	return err
}

func (c *core) runOnce(ctx context.Context, keys []string, fn func(tx *gorm.DB) error) error {
	release, err := lock.AcquireAll(ctx, c.locker, keys...)
	if err != nil {
		return err
	}
	defer release()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		// roll back rather than commit for a caller that already gave up
		return ctx.Err()
	})
}

// snapshot runs fn in a read transaction. Postgres defaults to read
// committed, so it is asked for repeatable read to make every statement see
// the same data; mysql already defaults to it and sqlite serialises.
func (c *core) snapshot(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if c.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return c.db.WithContext(ctx).Transaction(fn, opts...)
}

// fail classifies err and logs it once if it is a storage failure.
func (c *core) fail(op string, err error) error {
	err = classify(err)
	if errors.Is(err, ErrStorage) {
		c.log.Error(op+" failed", zap.Error(err))
	}
	return err
}

// balanceKeys returns the lock keys a delta needs, float before cash.
func balanceKeys(shopID, providerID string, category model.Category, delta model.BalanceDelta) []string {
	keys := make([]string, 0, 2)
	if delta.TouchesFloat {
		keys = append(keys, lock.FloatKey(shopID, providerID, string(category)))
	}
	if delta.TouchesCash {
		keys = append(keys, lock.CashKey(shopID))
	}
	return keys
}

// floatTarget names one float balance row and the seed used if the row is
// missing.
type floatTarget struct {
	shopID     string
	providerID string
	category   model.Category
	seed       decimal.Decimal
}

// applyDelta moves the balances a journal row touches. Missing rows are
// created on first use: float rows from the provider's opening balance,
// cash rows at zero.
func (c *core) applyDelta(ctx context.Context, tx *gorm.DB, target floatTarget, delta model.BalanceDelta) (model.BalanceUpdates, error) {
	var updates model.BalanceUpdates

	if delta.TouchesFloat {
		change, err := c.balanceRepo.AdjustFloat(ctx, tx, target.shopID, target.providerID, target.category, delta.Float)
		if errors.Is(err, repository.ErrBalanceNotFound) {
			if _, err = c.balanceRepo.GetOrCreateFloat(ctx, tx, target.shopID, target.providerID, target.category, target.seed); err != nil {
				return updates, fmt.Errorf("create float balance: %w", err)
			}
			change, err = c.balanceRepo.AdjustFloat(ctx, tx, target.shopID, target.providerID, target.category, delta.Float)
		}
		if err != nil {
			return updates, fmt.Errorf("adjust float: %w", err)
		}
		if change.Flagged {
			c.log.Warn("float balance went negative",
				zap.String("shop_id", target.shopID),
				zap.String("provider_id", target.providerID),
				zap.String("category", string(target.category)),
				zap.String("balance", change.Current.StringFixed(2)),
			)
		}
		updates.FloatBalance = change
	}

	if delta.TouchesCash {
		change, err := c.balanceRepo.AdjustCash(ctx, tx, target.shopID, delta.Cash)
		if errors.Is(err, repository.ErrBalanceNotFound) {
			if _, err = c.balanceRepo.GetOrCreateCash(ctx, tx, target.shopID); err != nil {
				return updates, fmt.Errorf("create cash balance: %w", err)
			}
			change, err = c.balanceRepo.AdjustCash(ctx, tx, target.shopID, delta.Cash)
		}
		if err != nil {
			return updates, fmt.Errorf("adjust cash: %w", err)
		}
		if change.Flagged {
			c.log.Warn("cash balance went negative",
				zap.String("shop_id", target.shopID),
				zap.String("balance", change.Current.StringFixed(2)),
			)
		}
		updates.CashBalance = change
	}

	return updates, nil
}

func (c *core) enqueue(ctx context.Context, tx *gorm.DB, action model.AuditAction, shopID, userID, entityType, entityID string, details interface{}) error {
	return enqueueAudit(ctx, tx, c.outboxRepo, action, shopID, userID, entityType, entityID, details)
}

// enqueueAudit writes an audit event to the outbox inside tx.
func enqueueAudit(ctx context.Context, tx *gorm.DB, outbox *repository.OutboxRepository, action model.AuditAction, shopID, userID, entityType, entityID string, details interface{}) error {
	event, err := audit.NewEvent(action, shopID, userID, entityType, entityID, details)
	if err != nil {
		return err
	}
	msg, err := audit.ToOutbox(event)
	if err != nil {
		return err
	}
	if err := outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("enqueue audit event: %w", err)
	}
	return nil
}
