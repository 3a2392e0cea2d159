package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"agentledger/internal/model"
	"agentledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutboxMessage(key string) *model.AuditOutbox {
	return &model.AuditOutbox{
		MessageKey: key,
		Action:     model.AuditActionCreate,
		ShopID:     "shop-1",
		EntityType: "transaction",
		EntityID:   "txn-" + key,
		Payload:    `{"id":"` + key + `"}`,
		Status:     model.OutboxStatusPending,
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, nil, newOutboxMessage(fmt.Sprintf("k%d", i))))
	}
	assert.Error(t, repo.Create(ctx, nil, newOutboxMessage("k0")), "message keys are unique")

	pending, err := repo.GetPendingMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "k0", pending[0].MessageKey)
	assert.Equal(t, "k1", pending[1].MessageKey)

	require.NoError(t, repo.MarkAsSent(ctx, pending[0].ID))

	failed, err := repo.RecordFailure(ctx, pending[1], errors.New("broker down"), 2)
	require.NoError(t, err)
	assert.False(t, failed)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "broker down", pending[0].LastError)

	failed, err = repo.RecordFailure(ctx, pending[0], errors.New(strings.Repeat("x", 600)), 2)
	require.NoError(t, err)
	assert.True(t, failed)

	counts := map[string]int64{}
	for _, status := range []string{model.OutboxStatusPending, model.OutboxStatusSent, model.OutboxStatusFailed} {
		counts[status], err = repo.CountByStatus(ctx, status)
		require.NoError(t, err)
	}
	assert.Equal(t, map[string]int64{
		model.OutboxStatusPending: 1,
		model.OutboxStatusSent:    1,
		model.OutboxStatusFailed:  1,
	}, counts)

	parked, err := repo.GetFailedMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Len(t, parked[0].LastError, 512)

	moved, err := repo.Requeue(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	assert.Zero(t, pending[0].RetryCount)
}

func TestMarkAsSentIgnoresFailedMessages(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg := newOutboxMessage("k")
	require.NoError(t, repo.Create(ctx, nil, msg))
	_, err := repo.RecordFailure(ctx, msg, errors.New("boom"), 1)
	require.NoError(t, err)

	require.NoError(t, repo.MarkAsSent(ctx, msg.ID))
	n, err := repo.CountByStatus(ctx, model.OutboxStatusFailed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestAuditRepositoryIgnoresReplays(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	entry := &model.AuditLog{
		ID:         "evt-1",
		Action:     model.AuditActionReverse,
		ShopID:     "shop-1",
		EntityType: "transaction",
		EntityID:   "txn-1",
		Details:    []byte(`{"reason":"typo"}`),
	}
	require.NoError(t, repo.Create(ctx, entry))
	replay := *entry
	require.NoError(t, repo.Create(ctx, &replay))

	logs, err := repo.ListByEntity(ctx, "transaction", "txn-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.JSONEq(t, `{"reason":"typo"}`, string(logs[0].Details))

	byShop, err := repo.ListByShop(ctx, "shop-1", 10)
	require.NoError(t, err)
	assert.Len(t, byShop, 1)
}
