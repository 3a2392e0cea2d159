package audit

import (
	"testing"

	"agentledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRoundTrip(t *testing.T) {
	event, err := NewEvent(model.AuditActionFloatTopUp, "shop-1", "user-1", EntityFloatMovement, "fm-1", map[string]string{"amount": "500.00"})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.OccurredAt.IsZero())

	msg, err := ToOutbox(event)
	require.NoError(t, err)
	assert.Equal(t, event.ID, msg.MessageKey)
	assert.Equal(t, model.OutboxStatusPending, msg.Status)
	assert.Equal(t, EntityFloatMovement, msg.EntityType)

	decoded, err := FromOutbox(msg)
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Action, decoded.Action)
	assert.True(t, event.OccurredAt.Equal(decoded.OccurredAt))
	assert.JSONEq(t, `{"amount":"500.00"}`, string(decoded.Details))
}

func TestNewEventRejectsUnmarshalableDetails(t *testing.T) {
	_, err := NewEvent(model.AuditActionCreate, "shop-1", "", EntityShop, "shop-1", map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestFromOutboxRejectsGarbage(t *testing.T) {
	_, err := FromOutbox(&model.AuditOutbox{ID: 7, Payload: "not json"})
	assert.ErrorContains(t, err, "decode outbox 7")
}
