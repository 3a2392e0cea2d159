package repository

import (
	"context"

	"agentledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.AuditOutbox) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.AuditOutbox, error) {
	var messages []*model.AuditOutbox
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.AuditOutbox{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Updates(map[string]interface{}{
			"status":     model.OutboxStatusSent,
			"last_error": "",
		}).Error
}

// RecordFailure bumps the retry counter and stores the error. Once the
// counter reaches maxRetries the message is parked as FAILED. It reports
// whether that happened.
func (r *OutboxRepository) RecordFailure(ctx context.Context, msg *model.AuditOutbox, cause error, maxRetries int) (bool, error) {
	errText := cause.Error()
	if len(errText) > 512 {
		errText = errText[:512]
	}
	values := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  errText,
	}
	failed := msg.RetryCount+1 >= maxRetries
	if failed {
		values["status"] = model.OutboxStatusFailed
	}
	err := r.db.WithContext(ctx).
		Model(&model.AuditOutbox{}).
		Where("id = ?", msg.ID).
		Updates(values).Error
	return failed, err
}

func (r *OutboxRepository) GetFailedMessages(ctx context.Context, limit int) ([]*model.AuditOutbox, error) {
	var messages []*model.AuditOutbox
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusFailed).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// Requeue puts FAILED messages back to PENDING and resets their retry count.
// With no ids it requeues every failed message. It returns how many rows
// moved.
func (r *OutboxRepository) Requeue(ctx context.Context, ids ...int64) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&model.AuditOutbox{}).
		Where("status = ?", model.OutboxStatusFailed)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	result := q.Updates(map[string]interface{}{
		"status":      model.OutboxStatusPending,
		"retry_count": 0,
	})
	return result.RowsAffected, result.Error
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.AuditOutbox{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
