package service

import (
	"context"

	"agentledger/internal/model"
	"agentledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultFailedLimit = 50
	maxRequeueIDs      = 500
)

// AuditService lets an operator inspect the audit outbox and send parked
// events again.
type AuditService struct {
	outboxRepo *repository.OutboxRepository
	log        *zap.Logger
}

func NewAuditService(db *gorm.DB, log *zap.Logger) *AuditService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditService{
		outboxRepo: repository.NewOutboxRepository(db),
		log:        log.Named("audit"),
	}
}

func (s *AuditService) fail(op string, err error) error {
	err = classify(err)
	if err != nil {
		s.log.Error(op+" failed", zap.Error(err))
	}
	return err
}

type OutboxStats struct {
	Pending int64 `json:"pending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

func (s *AuditService) OutboxStats(ctx context.Context) (*OutboxStats, error) {
	stats := &OutboxStats{}
	for status, dst := range map[string]*int64{
		model.OutboxStatusPending: &stats.Pending,
		model.OutboxStatusSent:    &stats.Sent,
		model.OutboxStatusFailed:  &stats.Failed,
	} {
		n, err := s.outboxRepo.CountByStatus(ctx, status)
		if err != nil {
			return nil, s.fail("count outbox", err)
		}
		*dst = n
	}
	return stats, nil
}

// ListFailed returns parked events, oldest first. limit 0 means the default.
func (s *AuditService) ListFailed(ctx context.Context, limit int) ([]*model.AuditOutbox, error) {
	if limit == 0 {
		limit = defaultFailedLimit
	}
	if limit < 0 || limit > repository.MaxPageLimit {
		return nil, validationf("limit must be between 1 and %d", repository.MaxPageLimit)
	}
	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return nil, s.fail("list failed outbox", err)
	}
	if messages == nil {
		messages = []*model.AuditOutbox{}
	}
	return messages, nil
}

type RequeueRequest struct {
	RequestedBy string  `json:"-"`
	IDs         []int64 `json:"ids"`
	All         bool    `json:"all"`
}

// Requeue hands FAILED events back to the relay. Either ids or all must be
// given, so an empty body never requeues everything by accident.
func (s *AuditService) Requeue(ctx context.Context, req *RequeueRequest) (int64, error) {
	switch {
	case req.All && len(req.IDs) > 0:
		return 0, validationf("give either ids or all, not both")
	case !req.All && len(req.IDs) == 0:
		return 0, validationf("ids is required unless all is true")
	case len(req.IDs) > maxRequeueIDs:
		return 0, validationf("at most %d ids per request", maxRequeueIDs)
	}
	for _, id := range req.IDs {
		if id <= 0 {
			return 0, validationf("invalid outbox id %d", id)
		}
	}

	moved, err := s.outboxRepo.Requeue(ctx, req.IDs...)
	if err != nil {
		return 0, s.fail("requeue outbox", err)
	}
	s.log.Info("audit events requeued",
		zap.String("requested_by", req.RequestedBy),
		zap.Bool("all", req.All),
		zap.Int64s("ids", req.IDs),
		zap.Int64("moved", moved),
	)
	return moved, nil
}
