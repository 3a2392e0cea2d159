package job

import (
	"context"
	"time"

	"agentledger/internal/audit"
	"agentledger/internal/config"
	"agentledger/internal/model"
	"agentledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditRelay drains the audit outbox into an audit.Emitter. Rows are sent
// in creation order; a row that keeps failing is parked as FAILED after
// cfg.MaxRetries attempts.
type AuditRelay struct {
	outboxRepo *repository.OutboxRepository
	emitter    audit.Emitter
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetries int
}

func NewAuditRelay(db *gorm.DB, emitter audit.Emitter, cfg *config.AuditConfig, log *zap.Logger) *AuditRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditRelay{
		outboxRepo: repository.NewOutboxRepository(db),
		emitter:    emitter,
		log:        log.Named("audit_relay"),
		stopCh:     make(chan struct{}),
		interval:   cfg.RelayInterval,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
	}
}

func (r *AuditRelay) Start(ctx context.Context) {
	r.log.Info("audit relay started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("audit relay stopping: context done")
			return
		case <-r.stopCh:
			r.log.Info("audit relay stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *AuditRelay) Stop() {
	close(r.stopCh)
}

// RunOnce relays one batch of pending rows and reports how many were sent.
func (r *AuditRelay) RunOnce(ctx context.Context) int {
	messages, err := r.outboxRepo.GetPendingMessages(ctx, r.batchSize)
	if err != nil {
		r.log.Error("load pending audit events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if r.relay(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (r *AuditRelay) relay(ctx context.Context, msg *model.AuditOutbox) bool {
	event, err := audit.FromOutbox(msg)
	if err == nil {
		err = r.emitter.Emit(ctx, event)
	}

	if err == nil {
		if err := r.outboxRepo.MarkAsSent(ctx, msg.ID); err != nil {
			// the event went out; a resend after this is absorbed by the sinks
			r.log.Error("mark audit event sent", zap.Int64("id", msg.ID), zap.Error(err))
		}
		return true
	}

	r.log.Warn("emit audit event",
		zap.Int64("id", msg.ID),
		zap.String("action", string(msg.Action)),
		zap.Int("attempt", msg.RetryCount+1),
		zap.Error(err),
	)
	failed, updateErr := r.outboxRepo.RecordFailure(ctx, msg, err, r.maxRetries)
	if updateErr != nil {
		r.log.Error("record audit event failure", zap.Int64("id", msg.ID), zap.Error(updateErr))
		return false
	}
	if failed {
		r.log.Error("audit event parked after max retries",
			zap.Int64("id", msg.ID),
			zap.String("message_key", msg.MessageKey),
			zap.String("shop_id", msg.ShopID),
			zap.String("entity_type", msg.EntityType),
			zap.String("entity_id", msg.EntityID),
		)
	}
	return false
}
