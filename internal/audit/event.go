// Package audit defines the audit events the ledger produces and the sinks
// that consume them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentledger/internal/model"

	"github.com/google/uuid"
)

const (
	EntityShop          = "shop"
	EntityProvider      = "provider"
	EntitySuperAgent    = "super_agent"
	EntityTransaction   = "transaction"
	EntityFloatMovement = "float_movement"
	EntityAdjustment    = "balance_adjustment"
	EntityCashBalance   = "cash_balance"
	EntityFloatBalance  = "float_balance"
)

// Event describes who did what to which entity. ID is unique per event and
// lets sinks drop duplicates.
type Event struct {
	ID         string            `json:"id"`
	Action     model.AuditAction `json:"action"`
	ShopID     string            `json:"shop_id"`
	UserID     string            `json:"user_id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Details    json.RawMessage   `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Emitter delivers events somewhere durable. Emit must be safe to call
// again with the same event.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// NewEvent builds an event, marshalling details to JSON.
func NewEvent(action model.AuditAction, shopID, userID, entityType, entityID string, details interface{}) (Event, error) {
	var raw json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return Event{}, fmt.Errorf("marshal audit details: %w", err)
		}
		raw = b
	}
	return Event{
		ID:         uuid.NewString(),
		Action:     action,
		ShopID:     shopID,
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// ToOutbox converts the event into the row written alongside the balance
// change.
func ToOutbox(event Event) (*model.AuditOutbox, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return &model.AuditOutbox{
		MessageKey: event.ID,
		Action:     event.Action,
		ShopID:     event.ShopID,
		UserID:     event.UserID,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}, nil
}

// FromOutbox decodes a stored outbox row back into its event.
func FromOutbox(msg *model.AuditOutbox) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return Event{}, fmt.Errorf("decode outbox %d: %w", msg.ID, err)
	}
	return event, nil
}
