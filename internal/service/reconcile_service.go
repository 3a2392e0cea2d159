package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"agentledger/internal/audit"
	"agentledger/internal/config"
	"agentledger/internal/infrastructure/lock"
	"agentledger/internal/model"
	"agentledger/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileService replays the journal to check, and on request repair, the
// cached balances. The journal is authoritative: Verify only reports,
// Reconcile explains a drift with a compensating adjustment, Rebuild
// overwrites the cache.
type ReconcileService struct {
	*core
}

func NewReconcileService(db *gorm.DB, locker lock.Locker, cfg *config.LedgerConfig, log *zap.Logger) *ReconcileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileService{core: newCore(db, locker, cfg, log.Named("reconciliation"))}
}

type floatKey struct {
	ProviderID string
	Category   model.Category
}

type ComputedFloat struct {
	ProviderID string          `json:"provider_id"`
	Category   model.Category  `json:"category"`
	Balance    decimal.Decimal `json:"balance"`
}

// ComputedBalances is the fold of the journal. Cash is only computed when
// the replay covered the whole shop.
type ComputedBalances struct {
	ShopID      string          `json:"shop_id"`
	Floats      []ComputedFloat `json:"float_balances"`
	Cash        decimal.Decimal `json:"cash_balance"`
	IncludeCash bool            `json:"include_cash"`
	Entries     int             `json:"entries_replayed"`
}

func (c *ComputedBalances) Float(providerID string, category model.Category) (decimal.Decimal, bool) {
	for _, f := range c.Floats {
		if f.ProviderID == providerID && f.Category == category {
			return f.Balance, true
		}
	}
	return decimal.Zero, false
}

// Recompute folds the journal of a shop, optionally narrowed to one provider
// and/or category, in transaction date order with ties broken by insertion
// order.
func (s *ReconcileService) Recompute(ctx context.Context, shopID, providerID string, category model.Category) (*ComputedBalances, error) {
	if category != "" && !category.Valid() {
		return nil, validationf("unknown category %q", category)
	}
	var computed *ComputedBalances
	err := s.snapshot(ctx, func(tx *gorm.DB) error {
		if _, err := s.shopRepo.GetShop(ctx, tx, shopID); err != nil {
			return err
		}
		var err error
		computed, err = s.recompute(ctx, tx, shopID, providerID, category)
		return err
	})
	if err != nil {
		return nil, s.fail("recompute", err)
	}
	return computed, nil
}

func (s *ReconcileService) recompute(ctx context.Context, tx *gorm.DB, shopID, providerID string, category model.Category) (*ComputedBalances, error) {
	floats := make(map[floatKey]decimal.Decimal)

	providers, err := s.shopRepo.ListProviders(ctx, tx, shopID, category)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	for _, p := range providers {
		if providerID != "" && p.ID != providerID {
			continue
		}
		floats[floatKey{p.ID, p.Category}] = p.OpeningBalance
	}

	includeCash := providerID == "" && category == ""
	cash := decimal.Zero
	if includeCash {
		row, err := s.balanceRepo.GetCash(ctx, tx, shopID)
		switch {
		case errors.Is(err, repository.ErrBalanceNotFound):
		case err != nil:
			return nil, fmt.Errorf("load cash balance: %w", err)
		default:
			cash = row.OpeningBalance
		}
	}

	entries, err := s.journalRepo.ListForReplay(ctx, tx, repository.JournalQuery{
		ShopID:     shopID,
		ProviderID: providerID,
		Category:   category,
	})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		delta := e.Delta()
		if delta.TouchesFloat {
			key := floatKey{e.ProviderID(), e.Category()}
			floats[key] = floats[key].Add(delta.Float)
		}
		if delta.TouchesCash && includeCash {
			cash = cash.Add(delta.Cash)
		}
	}

	computed := &ComputedBalances{
		ShopID:      shopID,
		Floats:      make([]ComputedFloat, 0, len(floats)),
		Cash:        cash.Round(2),
		IncludeCash: includeCash,
		Entries:     len(entries),
	}
	for key, balance := range floats {
		computed.Floats = append(computed.Floats, ComputedFloat{
			ProviderID: key.ProviderID,
			Category:   key.Category,
			Balance:    balance.Round(2),
		})
	}
	sort.Slice(computed.Floats, func(i, j int) bool {
		a, b := computed.Floats[i], computed.Floats[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.ProviderID < b.ProviderID
	})
	return computed, nil
}

// Verify compares every stored balance of the shop with the journal fold.
// It never changes anything.
func (s *ReconcileService) Verify(ctx context.Context, shopID string) ([]model.Drift, error) {
	var drifts []model.Drift
	err := s.snapshot(ctx, func(tx *gorm.DB) error {
		if _, err := s.shopRepo.GetShop(ctx, tx, shopID); err != nil {
			return err
		}
		var err error
		drifts, err = s.verify(ctx, tx, shopID)
		return err
	})
	if err != nil {
		return nil, s.fail("verify", err)
	}
	for _, d := range drifts {
		s.log.Warn("balance drift detected",
			zap.String("shop_id", d.ShopID),
			zap.String("target", string(d.Target)),
			zap.String("provider_id", d.ProviderID),
			zap.String("stored", d.Stored.StringFixed(2)),
			zap.String("computed", d.Computed.StringFixed(2)),
			zap.String("severity", string(d.Severity)),
		)
	}
	return drifts, nil
}

// verify reports drifts. A missing balance row counts as a stored zero.
func (s *ReconcileService) verify(ctx context.Context, tx *gorm.DB, shopID string) ([]model.Drift, error) {
	computed, err := s.recompute(ctx, tx, shopID, "", "")
	if err != nil {
		return nil, err
	}

	stored, err := s.balanceRepo.ListFloat(ctx, tx, shopID, "", "")
	if err != nil {
		return nil, fmt.Errorf("list float balances: %w", err)
	}
	storedByKey := make(map[floatKey]decimal.Decimal, len(stored))
	for _, row := range stored {
		storedByKey[floatKey{row.ProviderID, row.Category}] = row.Balance
	}

	drifts := []model.Drift{}
	seen := make(map[floatKey]bool, len(computed.Floats))
	for _, f := range computed.Floats {
		key := floatKey{f.ProviderID, f.Category}
		seen[key] = true
		storedBalance, ok := storedByKey[key]
		if !ok && f.Balance.IsZero() {
			continue
		}
		if d, drifted := newDrift(shopID, model.AdjustmentTargetFloat, key, storedBalance, f.Balance, ok); drifted {
			drifts = append(drifts, d)
		}
	}
	// rows with neither a provider nor any journal history fold to zero
	for _, row := range stored {
		key := floatKey{row.ProviderID, row.Category}
		if seen[key] {
			continue
		}
		if d, drifted := newDrift(shopID, model.AdjustmentTargetFloat, key, row.Balance, decimal.Zero, true); drifted {
			drifts = append(drifts, d)
		}
	}

	cashRow, err := s.balanceRepo.GetCash(ctx, tx, shopID)
	switch {
	case errors.Is(err, repository.ErrBalanceNotFound):
		if computed.Cash.IsZero() {
			break
		}
		if d, drifted := newDrift(shopID, model.AdjustmentTargetCash, floatKey{}, decimal.Zero, computed.Cash, false); drifted {
			drifts = append(drifts, d)
		}
	case err != nil:
		return nil, fmt.Errorf("load cash balance: %w", err)
	default:
		if d, drifted := newDrift(shopID, model.AdjustmentTargetCash, floatKey{}, cashRow.Balance, computed.Cash, true); drifted {
			drifts = append(drifts, d)
		}
	}
	return drifts, nil
}

func newDrift(shopID string, target model.AdjustmentTarget, key floatKey, stored, computed decimal.Decimal, rowExists bool) (model.Drift, bool) {
	difference := stored.Sub(computed)
	if rowExists && difference.IsZero() {
		return model.Drift{}, false
	}
	d := model.Drift{
		ShopID:     shopID,
		Target:     target,
		ProviderID: key.ProviderID,
		Category:   key.Category,
		Stored:     stored,
		Computed:   computed,
		Difference: difference,
		Severity:   model.SeverityOf(difference),
	}
	subject := "cash balance"
	if target == model.AdjustmentTargetFloat {
		subject = fmt.Sprintf("%s float balance of provider %s", key.Category, key.ProviderID)
	}
	if !rowExists {
		d.Description = fmt.Sprintf("%s has no stored row; journal says %s", subject, computed.StringFixed(2))
	} else {
		d.Description = fmt.Sprintf("%s is %s; journal says %s", subject, stored.StringFixed(2), computed.StringFixed(2))
	}
	return d, true
}

// driftKeys returns the lock keys covering drifts: float keys sorted, then
// the cash key.
func driftKeys(shopID string, drifts []model.Drift) []string {
	var floats []string
	cash := false
	for _, d := range drifts {
		if d.Target == model.AdjustmentTargetCash {
			cash = true
			continue
		}
		floats = append(floats, lock.FloatKey(shopID, d.ProviderID, string(d.Category)))
	}
	sort.Strings(floats)
	if cash {
		floats = append(floats, lock.CashKey(shopID))
	}
	return floats
}

func lockedDrift(locked map[string]bool, shopID string, d model.Drift) bool {
	if d.Target == model.AdjustmentTargetCash {
		return locked[lock.CashKey(shopID)]
	}
	return locked[lock.FloatKey(shopID, d.ProviderID, string(d.Category))]
}

// repair runs fix for each drift under the locks of the keys found drifting
// by an unlocked first pass. Drifts are recomputed once the locks are held;
// a drift that appears on a key not locked is left for the next run.
func (s *ReconcileService) repair(ctx context.Context, shopID string, fix func(tx *gorm.DB, drifts []model.Drift) error) ([]model.Drift, error) {
	if _, err := s.shopRepo.GetShop(ctx, nil, shopID); err != nil {
		return nil, err
	}
	var candidates []model.Drift
	err := s.snapshot(ctx, func(tx *gorm.DB) error {
		var err error
		candidates, err = s.verify(ctx, tx, shopID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []model.Drift{}, nil
	}

	keys := driftKeys(shopID, candidates)
	locked := make(map[string]bool, len(keys))
	for _, k := range keys {
		locked[k] = true
	}

	var repaired []model.Drift
	err = s.run(ctx, keys, func(tx *gorm.DB) error {
		fresh, err := s.verify(ctx, tx, shopID)
		if err != nil {
			return err
		}
		repaired = repaired[:0]
		for _, d := range fresh {
			if lockedDrift(locked, shopID, d) {
				repaired = append(repaired, d)
			}
		}
		if len(repaired) == 0 {
			return nil
		}
		return fix(tx, repaired)
	})
	if err != nil {
		return nil, err
	}
	return repaired, nil
}

// Reconcile makes the journal explain every drifting balance. Each drift
// gets a reconciliation adjustment of stored minus computed, so the stored
// balance is kept and the fold moves to meet it. A missing balance row is
// created from the journal instead.
func (s *ReconcileService) Reconcile(ctx context.Context, shopID, recordedBy, reason string) ([]model.Drift, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "reconciliation"
	}

	drifts, err := s.repair(ctx, shopID, func(tx *gorm.DB, drifts []model.Drift) error {
		adjustments := make([]string, 0, len(drifts))
		for _, d := range drifts {
			created, err := s.createMissingRow(ctx, tx, shopID, d)
			if err != nil {
				return err
			}
			if created {
				continue
			}
			row := &model.BalanceAdjustment{
				ShopID:          shopID,
				Target:          d.Target,
				ProviderID:      d.ProviderID,
				Category:        d.Category,
				Delta:           d.Difference,
				Reason:          reason,
				Source:          model.AdjustmentSourceReconciliation,
				RecordedBy:      recordedBy,
				TransactionDate: time.Now().UTC(),
			}
			if err := s.journalRepo.AppendAdjustment(ctx, tx, row); err != nil {
				return fmt.Errorf("append adjustment: %w", err)
			}
			adjustments = append(adjustments, row.AdjustmentNo)
		}
		return s.enqueue(ctx, tx, model.AuditActionReconcile, shopID, recordedBy, audit.EntityShop, shopID, map[string]interface{}{
			"reason":      reason,
			"drifts":      drifts,
			"adjustments": adjustments,
		})
	})
	if err != nil {
		return nil, s.fail("reconcile", err)
	}
	if len(drifts) > 0 {
		s.log.Info("reconciled shop", zap.String("shop_id", shopID), zap.Int("drifts", len(drifts)))
	}
	return drifts, nil
}

// Rebuild overwrites every drifting balance with the journal fold.
func (s *ReconcileService) Rebuild(ctx context.Context, shopID, recordedBy string) ([]model.Drift, error) {
	drifts, err := s.repair(ctx, shopID, func(tx *gorm.DB, drifts []model.Drift) error {
		for _, d := range drifts {
			created, err := s.createMissingRow(ctx, tx, shopID, d)
			if err != nil {
				return err
			}
			if created {
				continue
			}
			if d.Target == model.AdjustmentTargetCash {
				_, err = s.balanceRepo.OverwriteCash(ctx, tx, shopID, d.Computed)
			} else {
				_, err = s.balanceRepo.OverwriteFloat(ctx, tx, shopID, d.ProviderID, d.Category, d.Computed)
			}
			if err != nil {
				return fmt.Errorf("overwrite balance: %w", err)
			}
		}
		return s.enqueue(ctx, tx, model.AuditActionRebuild, shopID, recordedBy, audit.EntityShop, shopID, map[string]interface{}{
			"drifts": drifts,
		})
	})
	if err != nil {
		return nil, s.fail("rebuild", err)
	}
	if len(drifts) > 0 {
		s.log.Info("rebuilt shop balances", zap.String("shop_id", shopID), zap.Int("drifts", len(drifts)))
	}
	return drifts, nil
}

// createMissingRow inserts the balance row a drift reported as missing,
// holding the computed value. It reports false if the row already exists.
func (s *ReconcileService) createMissingRow(ctx context.Context, tx *gorm.DB, shopID string, d model.Drift) (bool, error) {
	if d.Target == model.AdjustmentTargetCash {
		if _, err := s.balanceRepo.GetCash(ctx, tx, shopID); !errors.Is(err, repository.ErrBalanceNotFound) {
			return false, err
		}
		if _, err := s.balanceRepo.GetOrCreateCash(ctx, tx, shopID); err != nil {
			return false, fmt.Errorf("create cash balance: %w", err)
		}
		if _, err := s.balanceRepo.OverwriteCash(ctx, tx, shopID, d.Computed); err != nil {
			return false, fmt.Errorf("seed cash balance: %w", err)
		}
		return true, nil
	}

	rows, err := s.balanceRepo.ListFloat(ctx, tx, shopID, d.ProviderID, d.Category)
	if err != nil || len(rows) > 0 {
		return false, err
	}
	if _, err := s.balanceRepo.GetOrCreateFloat(ctx, tx, shopID, d.ProviderID, d.Category, d.Computed); err != nil {
		return false, fmt.Errorf("create float balance: %w", err)
	}
	return true, nil
}

// VerifyAll verifies every shop. A failure on one shop does not stop the
// others; the errors are joined.
func (s *ReconcileService) VerifyAll(ctx context.Context) (map[string][]model.Drift, error) {
	shopIDs, err := s.shopRepo.ListShopIDs(ctx)
	if err != nil {
		return nil, s.fail("verify all", err)
	}

	report := make(map[string][]model.Drift)
	var errs []error
	for _, shopID := range shopIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		drifts, err := s.Verify(ctx, shopID)
		if err != nil {
			errs = append(errs, fmt.Errorf("shop %s: %w", shopID, err))
			continue
		}
		if len(drifts) > 0 {
			report[shopID] = drifts
		}
	}
	return report, errors.Join(errs...)
}
