package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentledger/internal/audit"
	"agentledger/internal/config"
	"agentledger/internal/model"
	"agentledger/internal/repository"
	"agentledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type flakyEmitter struct {
	failures int
	events   []audit.Event
}

func (f *flakyEmitter) Emit(_ context.Context, event audit.Event) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("sink unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func enqueue(t *testing.T, db *gorm.DB, entityID string) *model.AuditOutbox {
	t.Helper()
	event, err := audit.NewEvent(model.AuditActionCreate, "shop-1", "user-1", audit.EntityTransaction, entityID, map[string]string{"k": entityID})
	require.NoError(t, err)
	msg, err := audit.ToOutbox(event)
	require.NoError(t, err)
	require.NoError(t, repository.NewOutboxRepository(db).Create(context.Background(), nil, msg))
	return msg
}

func relayConfig() *config.AuditConfig {
	return &config.AuditConfig{RelayInterval: 10 * time.Millisecond, BatchSize: 10, MaxRetries: 3}
}

func countStatus(t *testing.T, db *gorm.DB, status string) int64 {
	t.Helper()
	n, err := repository.NewOutboxRepository(db).CountByStatus(context.Background(), status)
	require.NoError(t, err)
	return n
}

func TestAuditRelaySendsInOrder(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "a")
	enqueue(t, db, "b")
	enqueue(t, db, "c")

	sink := &flakyEmitter{}
	relay := NewAuditRelay(db, sink, relayConfig(), nil)

	assert.Equal(t, 3, relay.RunOnce(context.Background()))
	require.Len(t, sink.events, 3)
	assert.Equal(t, "a", sink.events[0].EntityID)
	assert.Equal(t, "c", sink.events[2].EntityID)
	assert.EqualValues(t, 3, countStatus(t, db, model.OutboxStatusSent))

	assert.Zero(t, relay.RunOnce(context.Background()))
}

func TestAuditRelayRetriesThenParks(t *testing.T) {
	db := testutil.NewDB(t)
	msg := enqueue(t, db, "a")

	sink := &flakyEmitter{failures: 100}
	relay := NewAuditRelay(db, sink, relayConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.Zero(t, relay.RunOnce(ctx))
		assert.EqualValues(t, 1, countStatus(t, db, model.OutboxStatusPending))
	}
	assert.Zero(t, relay.RunOnce(ctx))
	assert.EqualValues(t, 1, countStatus(t, db, model.OutboxStatusFailed))

	var stored model.AuditOutbox
	require.NoError(t, db.First(&stored, msg.ID).Error)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, "sink unavailable", stored.LastError)

	// parked rows are not retried until requeued
	sink.failures = 0
	assert.Zero(t, relay.RunOnce(ctx))
	_, err := repository.NewOutboxRepository(db).Requeue(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, relay.RunOnce(ctx))
	assert.EqualValues(t, 1, countStatus(t, db, model.OutboxStatusSent))
}

func TestAuditRelayRecoversAfterTransientFailure(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "a")
	enqueue(t, db, "b")

	sink := &flakyEmitter{failures: 1}
	relay := NewAuditRelay(db, sink, relayConfig(), nil)
	ctx := context.Background()

	assert.Equal(t, 1, relay.RunOnce(ctx))
	assert.Equal(t, 1, relay.RunOnce(ctx))
	assert.EqualValues(t, 2, countStatus(t, db, model.OutboxStatusSent))
}

func TestAuditRelayIntoStore(t *testing.T) {
	db := testutil.NewDB(t)
	msg := enqueue(t, db, "a")

	repo := repository.NewAuditRepository(db)
	relay := NewAuditRelay(db, audit.NewStoreEmitter(repo), relayConfig(), nil)
	require.Equal(t, 1, relay.RunOnce(context.Background()))

	logs, err := repo.ListByEntity(context.Background(), audit.EntityTransaction, "a")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, msg.MessageKey, logs[0].ID)
}

func TestAuditRelayStartStop(t *testing.T) {
	db := testutil.NewDB(t)
	enqueue(t, db, "a")

	relay := NewAuditRelay(db, &flakyEmitter{}, relayConfig(), nil)
	done := make(chan struct{})
	go func() {
		relay.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return countStatus(t, db, model.OutboxStatusSent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	relay.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
