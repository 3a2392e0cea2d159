package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agentledger/internal/model"
	"agentledger/internal/repository"

	"gorm.io/datatypes"
)

// Sender publishes a keyed message to a topic. *mq.Producer implements it.
type Sender interface {
	Send(topic, key, value string) error
}

// KafkaEmitter publishes events as JSON keyed by shop id, so one shop's
// events stay ordered within a partition.
type KafkaEmitter struct {
	sender Sender
	topic  string
}

func NewKafkaEmitter(sender Sender, topic string) *KafkaEmitter {
	return &KafkaEmitter{sender: sender, topic: topic}
}

func (e *KafkaEmitter) Emit(_ context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := event.ShopID
	if key == "" {
		key = event.ID
	}
	return e.sender.Send(e.topic, key, string(body))
}

// StoreEmitter writes events to the audit_logs table.
type StoreEmitter struct {
	repo *repository.AuditRepository
}

func NewStoreEmitter(repo *repository.AuditRepository) *StoreEmitter {
	return &StoreEmitter{repo: repo}
}

func (e *StoreEmitter) Emit(ctx context.Context, event Event) error {
	details := datatypes.JSON(event.Details)
	if len(details) == 0 {
		details = datatypes.JSON("{}")
	}
	return e.repo.Create(ctx, &model.AuditLog{
		ID:         event.ID,
		ShopID:     event.ShopID,
		UserID:     event.UserID,
		Action:     event.Action,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Details:    details,
		CreatedAt:  event.OccurredAt,
	})
}

// MultiEmitter fans an event out to every sink. All sinks are tried; the
// joined error reports each failure. Sinks must tolerate redelivery since a
// partial failure resends to all of them.
type MultiEmitter struct {
	emitters []Emitter
}

func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
