package service

import (
	"context"
	"errors"
	"fmt"
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

// maxAmount is the largest value a decimal(15,2) column holds.
var maxAmount = decimal.RequireFromString("9999999999999.99")

// LedgerService applies transactions and float movements to the journal
// and the cached balances as one atomic unit per operation.
type LedgerService struct {
	*core
}

func NewLedgerService(db *gorm.DB, locker lock.Locker, cfg *config.LedgerConfig, log *zap.Logger) *LedgerService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &LedgerService{core: newCore(db, locker, cfg, log.Named("ledger"))}
	s.log.Info("ledger service ready",
		zap.String("negative_balance_policy", string(s.NegativeBalancePolicy())),
		zap.Int("max_retries", s.maxRetries),
	)
	return s
}

// NegativeBalancePolicy reports the policy the balance store enforces.
func (s *LedgerService) NegativeBalancePolicy() repository.NegativeBalancePolicy {
	return s.balanceRepo.Policy()
}

// ============================================================================
// Transactions
// ============================================================================

type RecordTransactionRequest struct {
	ShopID             string                `json:"-"`
	RecordedBy         string                `json:"-"`
	ProviderID         string                `json:"provider_id" binding:"required"`
	Category           model.Category        `json:"category" binding:"required"`
	Type               model.TransactionType `json:"type" binding:"required"`
	Amount             decimal.Decimal       `json:"amount"`
	Commission         decimal.Decimal       `json:"commission"`
	Reference          string                `json:"reference" binding:"required"`
	CustomerIdentifier string                `json:"customer_identifier" binding:"required"`
	TransactionDate    time.Time             `json:"transaction_date"`
	Notes              string                `json:"notes"`
	ReceiptImageURL    string                `json:"receipt_image_url"`
}

func (r *RecordTransactionRequest) normalize(now time.Time) error {
	r.ShopID = strings.TrimSpace(r.ShopID)
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.Reference = strings.TrimSpace(r.Reference)
	r.CustomerIdentifier = strings.TrimSpace(r.CustomerIdentifier)

	if r.ShopID == "" {
		return validationf("shop_id is required")
	}
	if r.ProviderID == "" {
		return validationf("provider_id is required")
	}
	if !r.Category.Valid() {
		return validationf("unknown category %q", r.Category)
	}
	if _, ok := model.EffectOf(r.Category, r.Type); !ok {
		return validationf("type %q is not a %s transaction", r.Type, r.Category)
	}
	var err error
	if r.Amount, err = checkAmount("amount", r.Amount, false); err != nil {
		return err
	}
	if r.Commission, err = checkAmount("commission", r.Commission, false); err != nil {
		return err
	}
	if r.Reference == "" {
		return validationf("reference is required")
	}
	if r.CustomerIdentifier == "" {
		return validationf("customer_identifier is required")
	}
	r.TransactionDate = dateOrNow(r.TransactionDate, now)
	return nil
}

type TransactionResult struct {
	Transaction *model.Transaction   `json:"transaction"`
	Balances    model.BalanceUpdates `json:"balance_updates"`
}

// RecordTransaction journals a customer transaction and applies its effect
// to the provider float and/or the shop cash.
func (s *LedgerService) RecordTransaction(ctx context.Context, req *RecordTransactionRequest) (*TransactionResult, error) {
	if err := req.normalize(time.Now()); err != nil {
		return nil, err
	}

	provider, err := s.resolveProvider(ctx, req.ShopID, req.ProviderID)
	if err != nil {
		return nil, s.fail("record transaction", err)
	}
	if provider.Category != req.Category {
		return nil, validationf("provider %s is a %s provider, not %s", provider.ID, provider.Category, req.Category)
	}

	row := &model.Transaction{
		ShopID:             req.ShopID,
		ProviderID:         req.ProviderID,
		RecordedBy:         req.RecordedBy,
		Category:           req.Category,
		Type:               req.Type,
		Amount:             req.Amount,
		Commission:         req.Commission,
		Reference:          req.Reference,
		CustomerIdentifier: req.CustomerIdentifier,
		ReceiptImageURL:    req.ReceiptImageURL,
		Notes:              req.Notes,
		TransactionDate:    req.TransactionDate,
	}
	result, err := s.applyTransaction(ctx, row, provider, model.AuditActionCreate, nil)
	if err != nil {
		return nil, s.fail("record transaction", err)
	}

	s.log.Info("transaction recorded",
		zap.String("shop_id", row.ShopID),
		zap.String("transaction_no", row.TransactionNo),
		zap.String("type", string(row.Type)),
		zap.String("amount", row.Amount.StringFixed(2)),
	)
	return result, nil
}

// ReverseTransaction appends a compensating row that undoes the effect of
// transactionID. A transaction is reversed at most once and a reversal
// cannot itself be reversed.
func (s *LedgerService) ReverseTransaction(ctx context.Context, transactionID, recordedBy, reason string) (*TransactionResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("reason is required")
	}

	original, err := s.journalRepo.GetTransaction(ctx, nil, transactionID)
	if err != nil {
		return nil, s.fail("reverse transaction", err)
	}
	if original.IsReversal() {
		return nil, validationf("transaction %s is itself a reversal", original.ID)
	}
	provider, err := s.resolveProvider(ctx, original.ShopID, original.ProviderID)
	if err != nil {
		return nil, s.fail("reverse transaction", err)
	}

	originalID := original.ID
	row := &model.Transaction{
		ShopID:             original.ShopID,
		ProviderID:         original.ProviderID,
		RecordedBy:         recordedBy,
		Category:           original.Category,
		Type:               original.Type,
		Amount:             original.Amount,
		Commission:         original.Commission,
		Reference:          original.Reference,
		CustomerIdentifier: original.CustomerIdentifier,
		Notes:              reason,
		ReversalOf:         &originalID,
		TransactionDate:    time.Now().UTC(),
	}
	guard := func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.journalRepo.FindTransactionReversal(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return validationf("transaction %s was already reversed by %s", originalID, existing.TransactionNo)
		}
		return nil
	}
	result, err := s.applyTransaction(ctx, row, provider, model.AuditActionReverse, guard)
	if err != nil {
		return nil, s.fail("reverse transaction", err)
	}

	s.log.Info("transaction reversed",
		zap.String("shop_id", row.ShopID),
		zap.String("original_id", originalID),
		zap.String("transaction_no", row.TransactionNo),
	)
	return result, nil
}

func (s *LedgerService) applyTransaction(ctx context.Context, row *model.Transaction, provider *model.Provider, action model.AuditAction, guard func(context.Context, *gorm.DB) error) (*TransactionResult, error) {
	delta := row.Delta()
	target := floatTarget{shopID: row.ShopID, providerID: row.ProviderID, category: row.Category, seed: provider.OpeningBalance}
	result := &TransactionResult{Transaction: row}

	err := s.run(ctx, balanceKeys(row.ShopID, row.ProviderID, row.Category, delta), func(tx *gorm.DB) error {
		if guard != nil {
			if err := guard(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.journalRepo.AppendTransaction(ctx, tx, row); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		updates, err := s.applyDelta(ctx, tx, target, delta)
		if err != nil {
			return err
		}
		result.Balances = updates

		details := map[string]interface{}{
			"transaction_no": row.TransactionNo,
			"provider_id":    row.ProviderID,
			"category":       row.Category,
			"type":           row.Type,
			"amount":         row.Amount,
			"commission":     row.Commission,
			"reference":      row.Reference,
			"balances":       updates,
		}
		if row.ReversalOf != nil {
			details["reversal_of"] = *row.ReversalOf
		}
		return s.enqueue(ctx, tx, action, row.ShopID, row.RecordedBy, audit.EntityTransaction, row.ID, details)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row, err := s.journalRepo.GetTransaction(ctx, nil, id)
	if err != nil {
		return nil, s.fail("get transaction", err)
	}
	return row, nil
}

// ============================================================================
// Float movements
// ============================================================================

type RecordFloatMovementRequest struct {
	ShopID          string                   `json:"-"`
	RecordedBy      string                   `json:"-"`
	Type            model.FloatOperationType `json:"-"`
	ProviderID      string                   `json:"provider_id" binding:"required"`
	SuperAgentID    string                   `json:"super_agent_id" binding:"required"`
	Category        model.Category           `json:"category" binding:"required"`
	Amount          decimal.Decimal          `json:"amount"`
	Reference       string                   `json:"reference" binding:"required"`
	IsNewCapital    bool                     `json:"is_new_capital"`
	TransactionDate time.Time                `json:"transaction_date"`
	Notes           string                   `json:"notes"`
	ReceiptImageURL string                   `json:"receipt_image_url"`
}

func (r *RecordFloatMovementRequest) normalize(now time.Time) error {
	r.ShopID = strings.TrimSpace(r.ShopID)
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.SuperAgentID = strings.TrimSpace(r.SuperAgentID)
	r.Reference = strings.TrimSpace(r.Reference)

	if r.ShopID == "" {
		return validationf("shop_id is required")
	}
	if r.ProviderID == "" {
		return validationf("provider_id is required")
	}
	if r.SuperAgentID == "" {
		return validationf("super_agent_id is required")
	}
	if !r.Type.Valid() {
		return validationf("unknown float operation %q", r.Type)
	}
	if !r.Category.Valid() {
		return validationf("unknown category %q", r.Category)
	}
	if r.IsNewCapital && r.Type != model.FloatOperationTopUp {
		return validationf("is_new_capital only applies to top-ups")
	}
	var err error
	if r.Amount, err = checkAmount("amount", r.Amount, true); err != nil {
		return err
	}
	if r.Reference == "" {
		return validationf("reference is required")
	}
	r.TransactionDate = dateOrNow(r.TransactionDate, now)
	return nil
}

type FloatMovementResult struct {
	FloatMovement *model.FloatMovement `json:"float_movement"`
	Balances      model.BalanceUpdates `json:"balance_updates"`
}

// RecordFloatMovement journals a top-up or withdrawal against a super agent.
func (s *LedgerService) RecordFloatMovement(ctx context.Context, req *RecordFloatMovementRequest) (*FloatMovementResult, error) {
	if err := req.normalize(time.Now()); err != nil {
		return nil, err
	}

	provider, err := s.resolveProvider(ctx, req.ShopID, req.ProviderID)
	if err != nil {
		return nil, s.fail("record float movement", err)
	}
	if provider.Category != req.Category {
		return nil, validationf("provider %s is a %s provider, not %s", provider.ID, provider.Category, req.Category)
	}
	if _, err := s.shopRepo.GetSuperAgent(ctx, nil, req.ShopID, req.SuperAgentID); err != nil {
		return nil, s.fail("record float movement", err)
	}

	row := &model.FloatMovement{
		ShopID:          req.ShopID,
		ProviderID:      req.ProviderID,
		SuperAgentID:    req.SuperAgentID,
		RecordedBy:      req.RecordedBy,
		Type:            req.Type,
		Category:        req.Category,
		Amount:          req.Amount,
		Reference:       req.Reference,
		IsNewCapital:    req.IsNewCapital,
		ReceiptImageURL: req.ReceiptImageURL,
		Notes:           req.Notes,
		TransactionDate: req.TransactionDate,
	}
	action := model.AuditActionFloatTopUp
	if row.Type == model.FloatOperationWithdraw {
		action = model.AuditActionFloatWithdraw
	}
	result, err := s.applyFloatMovement(ctx, row, provider, action, nil)
	if err != nil {
		return nil, s.fail("record float movement", err)
	}

	s.log.Info("float movement recorded",
		zap.String("shop_id", row.ShopID),
		zap.String("movement_no", row.MovementNo),
		zap.String("type", string(row.Type)),
		zap.String("amount", row.Amount.StringFixed(2)),
		zap.Bool("new_capital", row.IsNewCapital),
	)
	return result, nil
}

// ReverseFloatMovement appends a compensating float movement.
func (s *LedgerService) ReverseFloatMovement(ctx context.Context, movementID, recordedBy, reason string) (*FloatMovementResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("reason is required")
	}

	original, err := s.journalRepo.GetFloatMovement(ctx, nil, movementID)
	if err != nil {
		return nil, s.fail("reverse float movement", err)
	}
	if original.IsReversal() {
		return nil, validationf("float movement %s is itself a reversal", original.ID)
	}
	provider, err := s.resolveProvider(ctx, original.ShopID, original.ProviderID)
	if err != nil {
		return nil, s.fail("reverse float movement", err)
	}

	originalID := original.ID
	row := &model.FloatMovement{
		ShopID:          original.ShopID,
		ProviderID:      original.ProviderID,
		SuperAgentID:    original.SuperAgentID,
		RecordedBy:      recordedBy,
		Type:            original.Type,
		Category:        original.Category,
		Amount:          original.Amount,
		Reference:       original.Reference,
		IsNewCapital:    original.IsNewCapital,
		Notes:           reason,
		ReversalOf:      &originalID,
		TransactionDate: time.Now().UTC(),
	}
	guard := func(ctx context.Context, tx *gorm.DB) error {
		existing, err := s.journalRepo.FindFloatMovementReversal(ctx, tx, originalID)
		if err != nil {
			return err
		}
		if existing != nil {
			return validationf("float movement %s was already reversed by %s", originalID, existing.MovementNo)
		}
		return nil
	}
	result, err := s.applyFloatMovement(ctx, row, provider, model.AuditActionReverse, guard)
	if err != nil {
		return nil, s.fail("reverse float movement", err)
	}

	s.log.Info("float movement reversed",
		zap.String("shop_id", row.ShopID),
		zap.String("original_id", originalID),
		zap.String("movement_no", row.MovementNo),
	)
	return result, nil
}

func (s *LedgerService) applyFloatMovement(ctx context.Context, row *model.FloatMovement, provider *model.Provider, action model.AuditAction, guard func(context.Context, *gorm.DB) error) (*FloatMovementResult, error) {
	delta := row.Delta()
	target := floatTarget{shopID: row.ShopID, providerID: row.ProviderID, category: row.Category, seed: provider.OpeningBalance}
	result := &FloatMovementResult{FloatMovement: row}

	err := s.run(ctx, balanceKeys(row.ShopID, row.ProviderID, row.Category, delta), func(tx *gorm.DB) error {
		if guard != nil {
			if err := guard(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.journalRepo.AppendFloatMovement(ctx, tx, row); err != nil {
			return fmt.Errorf("append float movement: %w", err)
		}
		updates, err := s.applyDelta(ctx, tx, target, delta)
		if err != nil {
			return err
		}
		result.Balances = updates

		details := map[string]interface{}{
			"movement_no":    row.MovementNo,
			"provider_id":    row.ProviderID,
			"super_agent_id": row.SuperAgentID,
			"category":       row.Category,
			"type":           row.Type,
			"amount":         row.Amount,
			"is_new_capital": row.IsNewCapital,
			"reference":      row.Reference,
			"balances":       updates,
		}
		if row.ReversalOf != nil {
			details["reversal_of"] = *row.ReversalOf
		}
		return s.enqueue(ctx, tx, action, row.ShopID, row.RecordedBy, audit.EntityFloatMovement, row.ID, details)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) GetFloatMovement(ctx context.Context, id string) (*model.FloatMovement, error) {
	row, err := s.journalRepo.GetFloatMovement(ctx, nil, id)
	if err != nil {
		return nil, s.fail("get float movement", err)
	}
	return row, nil
}

// ============================================================================
// Annotations
// ============================================================================

// AnnotateRequest updates the descriptive columns of a journal row. Nil
// fields are left unchanged.
type AnnotateRequest struct {
	Notes           *string `json:"notes"`
	ReceiptImageURL *string `json:"receipt_image_url"`
}

func (r *AnnotateRequest) annotations() (repository.Annotations, error) {
	if r == nil || (r.Notes == nil && r.ReceiptImageURL == nil) {
		return repository.Annotations{}, validationf("nothing to update: only notes and receipt_image_url can change")
	}
	return repository.Annotations{Notes: r.Notes, ReceiptImageURL: r.ReceiptImageURL}, nil
}

func (s *LedgerService) AnnotateTransaction(ctx context.Context, id, recordedBy string, req *AnnotateRequest) (*model.Transaction, error) {
	a, err := req.annotations()
	if err != nil {
		return nil, err
	}

	var row *model.Transaction
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.journalRepo.UpdateTransactionAnnotations(ctx, tx, id, a); err != nil {
			return err
		}
		var err error
		if row, err = s.journalRepo.GetTransaction(ctx, tx, id); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, model.AuditActionUpdate, row.ShopID, recordedBy, audit.EntityTransaction, row.ID, req)
	})
	if err != nil {
		return nil, s.fail("annotate transaction", err)
	}
	return row, nil
}

func (s *LedgerService) AnnotateFloatMovement(ctx context.Context, id, recordedBy string, req *AnnotateRequest) (*model.FloatMovement, error) {
	a, err := req.annotations()
	if err != nil {
		return nil, err
	}

	var row *model.FloatMovement
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.journalRepo.UpdateFloatMovementAnnotations(ctx, tx, id, a); err != nil {
			return err
		}
		var err error
		if row, err = s.journalRepo.GetFloatMovement(ctx, tx, id); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, model.AuditActionUpdate, row.ShopID, recordedBy, audit.EntityFloatMovement, row.ID, req)
	})
	if err != nil {
		return nil, s.fail("annotate float movement", err)
	}
	return row, nil
}

// ============================================================================
// Cash
// ============================================================================

const (
	CashAdjustAdd      = "add"
	CashAdjustSubtract = "subtract"
)

type AdjustCashRequest struct {
	ShopID         string          `json:"-"`
	RecordedBy     string          `json:"-"`
	AdjustmentType string          `json:"adjustment_type" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
}

type AdjustmentResult struct {
	Adjustment *model.BalanceAdjustment `json:"adjustment"`
	Balance    *model.BalanceChange     `json:"cash_balance"`
}

// AdjustCash records a manual correction of the till, e.g. after a count.
func (s *LedgerService) AdjustCash(ctx context.Context, req *AdjustCashRequest) (*AdjustmentResult, error) {
	amount, err := checkAmount("amount", req.Amount, true)
	if err != nil {
		return nil, err
	}
	var delta decimal.Decimal
	switch req.AdjustmentType {
	case CashAdjustAdd:
		delta = amount
	case CashAdjustSubtract:
		delta = amount.Neg()
	default:
		return nil, validationf("adjustment_type must be %q or %q", CashAdjustAdd, CashAdjustSubtract)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual cash adjustment"
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, req.ShopID); err != nil {
		return nil, s.fail("adjust cash", err)
	}

	row := &model.BalanceAdjustment{
		ShopID:          req.ShopID,
		Target:          model.AdjustmentTargetCash,
		Delta:           delta,
		Reason:          reason,
		Source:          model.AdjustmentSourceManual,
		RecordedBy:      req.RecordedBy,
		TransactionDate: time.Now().UTC(),
	}
	result := &AdjustmentResult{Adjustment: row}
	err = s.run(ctx, []string{lock.CashKey(req.ShopID)}, func(tx *gorm.DB) error {
		if err := s.journalRepo.AppendAdjustment(ctx, tx, row); err != nil {
			return fmt.Errorf("append adjustment: %w", err)
		}
		updates, err := s.applyDelta(ctx, tx, floatTarget{shopID: req.ShopID}, row.BalanceDelta())
		if err != nil {
			return err
		}
		result.Balance = updates.CashBalance
		return s.enqueue(ctx, tx, model.AuditActionCreate, row.ShopID, row.RecordedBy, audit.EntityAdjustment, row.ID, map[string]interface{}{
			"adjustment_no": row.AdjustmentNo,
			"target":        row.Target,
			"delta":         row.Delta,
			"reason":        row.Reason,
			"cash_balance":  updates.CashBalance,
		})
	})
	if err != nil {
		return nil, s.fail("adjust cash", err)
	}

	s.log.Info("cash adjusted",
		zap.String("shop_id", row.ShopID),
		zap.String("delta", row.Delta.StringFixed(2)),
		zap.String("reason", row.Reason),
	)
	return result, nil
}

type SetCashOpeningRequest struct {
	ShopID         string          `json:"-"`
	RecordedBy     string          `json:"-"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type CashOpeningResult struct {
	Balance        *model.BalanceChange `json:"cash_balance"`
	OpeningBalance decimal.Decimal      `json:"opening_balance"`
	Previous       decimal.Decimal      `json:"previous_opening_balance"`
}

// SetCashOpeningBalance changes the shop's cash opening balance. The balance
// moves by the same amount, keeping everything recorded since.
func (s *LedgerService) SetCashOpeningBalance(ctx context.Context, req *SetCashOpeningRequest) (*CashOpeningResult, error) {
	opening, err := checkAmount("opening_balance", req.OpeningBalance, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, req.ShopID); err != nil {
		return nil, s.fail("set cash opening balance", err)
	}

	var result *CashOpeningResult
	err = s.run(ctx, []string{lock.CashKey(req.ShopID)}, func(tx *gorm.DB) error {
		if _, err := s.balanceRepo.GetOrCreateCash(ctx, tx, req.ShopID); err != nil {
			return fmt.Errorf("create cash balance: %w", err)
		}
		change, previous, err := s.balanceRepo.SetCashOpening(ctx, tx, req.ShopID, opening)
		if err != nil {
			return fmt.Errorf("set cash opening: %w", err)
		}
		row := &model.BalanceAdjustment{
			ShopID:          req.ShopID,
			Target:          model.AdjustmentTargetCash,
			Delta:           change.Change,
			Reason:          fmt.Sprintf("opening balance %s -> %s", previous.StringFixed(2), opening.StringFixed(2)),
			Source:          model.AdjustmentSourceOpeningBalance,
			RecordedBy:      req.RecordedBy,
			TransactionDate: time.Now().UTC(),
		}
		if err := s.journalRepo.AppendAdjustment(ctx, tx, row); err != nil {
			return fmt.Errorf("append adjustment: %w", err)
		}
		result = &CashOpeningResult{Balance: change, OpeningBalance: opening, Previous: previous}
		return s.enqueue(ctx, tx, model.AuditActionSettingsChange, req.ShopID, req.RecordedBy, audit.EntityCashBalance, req.ShopID, map[string]interface{}{
			"previous_opening_balance": previous,
			"opening_balance":          opening,
			"cash_balance":             change,
		})
	})
	if err != nil {
		return nil, s.fail("set cash opening balance", err)
	}
	return result, nil
}

// ============================================================================
// Reads
// ============================================================================

type FloatBalanceView struct {
	ProviderID     string          `json:"provider_id"`
	ProviderName   string          `json:"provider_name"`
	Category       model.Category  `json:"category"`
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	LastUpdated    time.Time       `json:"last_updated"`
}

type CashBalanceView struct {
	Balance        decimal.Decimal `json:"balance"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	LastUpdated    time.Time       `json:"last_updated"`
}

type BalanceTotals struct {
	TotalCash        decimal.Decimal `json:"total_cash"`
	TotalMobileFloat decimal.Decimal `json:"total_mobile_float"`
	TotalBankFloat   decimal.Decimal `json:"total_bank_float"`
	TotalFloat       decimal.Decimal `json:"total_float"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
}

type BalanceSnapshot struct {
	ShopID        string             `json:"shop_id"`
	CashBalance   CashBalanceView    `json:"cash_balance"`
	FloatBalances []FloatBalanceView `json:"float_balances"`
	Totals        BalanceTotals      `json:"totals"`
}

// GetBalances reads a shop's balances inside one transaction, so the
// snapshot never mixes the before and after of a concurrent write. No
// ledger locks are taken.
func (s *LedgerService) GetBalances(ctx context.Context, shopID, providerID string, category model.Category) (*BalanceSnapshot, error) {
	if category != "" && !category.Valid() {
		return nil, validationf("unknown category %q", category)
	}

	snapshot := &BalanceSnapshot{ShopID: shopID, FloatBalances: []FloatBalanceView{}}
	err := s.snapshot(ctx, func(tx *gorm.DB) error {
		if _, err := s.shopRepo.GetShop(ctx, tx, shopID); err != nil {
			return err
		}

		cash, err := s.cashView(ctx, tx, shopID)
		if err != nil {
			return err
		}
		snapshot.CashBalance = cash

		floats, err := s.balanceRepo.ListFloat(ctx, tx, shopID, providerID, category)
		if err != nil {
			return err
		}
		providers, err := s.shopRepo.ListProviders(ctx, tx, shopID, category)
		if err != nil {
			return err
		}
		byID := make(map[string]*model.Provider, len(providers))
		for _, p := range providers {
			byID[p.ID] = p
		}
		for _, fb := range floats {
			view := FloatBalanceView{
				ProviderID:  fb.ProviderID,
				Category:    fb.Category,
				Balance:     fb.Balance,
				LastUpdated: fb.LastUpdated,
			}
			if p, ok := byID[fb.ProviderID]; ok {
				view.ProviderName = p.Name
				view.OpeningBalance = p.OpeningBalance
			}
			snapshot.FloatBalances = append(snapshot.FloatBalances, view)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("get balances", err)
	}

	snapshot.Totals = totalsOf(snapshot.CashBalance.Balance, snapshot.FloatBalances)
	return snapshot, nil
}

// GetCashBalance reads the cash drawer alone. A shop without a cash row
// reports zero.
func (s *LedgerService) GetCashBalance(ctx context.Context, shopID string) (*CashBalanceView, error) {
	var view CashBalanceView
	err := s.snapshot(ctx, func(tx *gorm.DB) error {
		if _, err := s.shopRepo.GetShop(ctx, tx, shopID); err != nil {
			return err
		}
		var err error
		view, err = s.cashView(ctx, tx, shopID)
		return err
	})
	if err != nil {
		return nil, s.fail("get cash balance", err)
	}
	return &view, nil
}

func (s *LedgerService) cashView(ctx context.Context, tx *gorm.DB, shopID string) (CashBalanceView, error) {
	cash, err := s.balanceRepo.GetCash(ctx, tx, shopID)
	switch {
	case errors.Is(err, repository.ErrBalanceNotFound):
		return CashBalanceView{}, nil
	case err != nil:
		return CashBalanceView{}, err
	}
	return CashBalanceView{
		Balance:        cash.Balance,
		OpeningBalance: cash.OpeningBalance,
		LastUpdated:    cash.LastUpdated,
	}, nil
}

func totalsOf(cash decimal.Decimal, floats []FloatBalanceView) BalanceTotals {
	totals := BalanceTotals{TotalCash: cash}
	for _, f := range floats {
		switch f.Category {
		case model.CategoryMobile:
			totals.TotalMobileFloat = totals.TotalMobileFloat.Add(f.Balance)
		case model.CategoryBank:
			totals.TotalBankFloat = totals.TotalBankFloat.Add(f.Balance)
		}
	}
	totals.TotalFloat = totals.TotalMobileFloat.Add(totals.TotalBankFloat)
	totals.GrandTotal = totals.TotalFloat.Add(cash)
	return totals
}

func (s *LedgerService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) (*repository.TransactionPage, error) {
	if err := checkPage(filter.Page, filter.Limit); err != nil {
		return nil, err
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, validationf("unknown category %q", filter.Category)
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, filter.ShopID); err != nil {
		return nil, s.fail("list transactions", err)
	}
	page, err := s.journalRepo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, s.fail("list transactions", err)
	}
	return page, nil
}

func (s *LedgerService) ListFloatMovements(ctx context.Context, filter repository.FloatMovementFilter) (*repository.FloatMovementPage, error) {
	if err := checkPage(filter.Page, filter.Limit); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, validationf("unknown float operation %q", filter.Type)
	}
	if _, err := s.shopRepo.GetShop(ctx, nil, filter.ShopID); err != nil {
		return nil, s.fail("list float movements", err)
	}
	page, err := s.journalRepo.ListFloatMovements(ctx, filter)
	if err != nil {
		return nil, s.fail("list float movements", err)
	}
	return page, nil
}

type TransactionTypeInfo struct {
	Value        model.TransactionType `json:"value"`
	Label        string                `json:"label"`
	AffectsFloat string                `json:"affects_float"`
	AffectsCash  string                `json:"affects_cash"`
}

// TransactionTypes lists, per category, each transaction type and how it
// moves float and cash.
func (s *LedgerService) TransactionTypes() map[model.Category][]TransactionTypeInfo {
	out := make(map[model.Category][]TransactionTypeInfo, 2)
	for _, category := range []model.Category{model.CategoryMobile, model.CategoryBank} {
		for _, e := range model.TransactionEffects(category) {
			out[category] = append(out[category], TransactionTypeInfo{
				Value:        e.Type,
				Label:        e.Type.Label(),
				AffectsFloat: e.Float.String(),
				AffectsCash:  e.Cash.String(),
			})
		}
	}
	return out
}

// ============================================================================
// helpers
// ============================================================================

func (s *LedgerService) resolveProvider(ctx context.Context, shopID, providerID string) (*model.Provider, error) {
	if _, err := s.shopRepo.GetShop(ctx, nil, shopID); err != nil {
		return nil, err
	}
	return s.shopRepo.GetProvider(ctx, nil, shopID, providerID)
}

func checkAmount(field string, amount decimal.Decimal, strictlyPositive bool) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if amount.IsNegative() {
		return amount, validationf("%s must not be negative", field)
	}
	if strictlyPositive && amount.IsZero() {
		return amount, validationf("%s must be greater than zero", field)
	}
	if amount.GreaterThan(maxAmount) {
		return amount, validationf("%s exceeds %s", field, maxAmount.StringFixed(2))
	}
	return amount, nil
}

func checkPage(page, limit int) error {
	if page < 0 {
		return validationf("page must be at least 1")
	}
	if limit < 0 || limit > repository.MaxPageLimit {
		return validationf("limit must be between 1 and %d", repository.MaxPageLimit)
	}
	return nil
}

func dateOrNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t.UTC()
}
