package service

import (
	"context"
	"fmt"
	"testing"

	"agentledger/internal/model"
	"agentledger/internal/repository"
	"agentledger/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedOutbox(t *testing.T, db *gorm.DB, status string, n int) []int64 {
	t.Helper()
	repo := repository.NewOutboxRepository(db)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		msg := &model.AuditOutbox{
			MessageKey: fmt.Sprintf("%s-%d", status, i),
			Action:     model.AuditActionCreate,
			ShopID:     "shop-1",
			EntityType: "transaction",
			EntityID:   fmt.Sprintf("txn-%d", i),
			Payload:    "{}",
			Status:     status,
			RetryCount: 5,
			LastError:  "broker down",
		}
		require.NoError(t, repo.Create(context.Background(), nil, msg))
		ids = append(ids, msg.ID)
	}
	return ids
}

func TestAuditOutboxStatsAndFailedList(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewAuditService(db, nil)
	ctx := context.Background()

	seedOutbox(t, db, model.OutboxStatusPending, 2)
	seedOutbox(t, db, model.OutboxStatusSent, 1)
	failed := seedOutbox(t, db, model.OutboxStatusFailed, 3)

	stats, err := svc.OutboxStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxStats{Pending: 2, Sent: 1, Failed: 3}, *stats)

	rows, err := svc.ListFailed(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, failed[0], rows[0].ID)
	assert.Equal(t, "broker down", rows[0].LastError)

	rows, err = svc.ListFailed(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = svc.ListFailed(ctx, repository.MaxPageLimit+1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAuditOutboxRequeue(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewAuditService(db, nil)
	ctx := context.Background()
	failed := seedOutbox(t, db, model.OutboxStatusFailed, 3)

	moved, err := svc.Requeue(ctx, &RequeueRequest{RequestedBy: "admin", IDs: failed[:1]})
	require.NoError(t, err)
	assert.EqualValues(t, 1, moved)

	pending, err := repository.NewOutboxRepository(db).GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, failed[0], pending[0].ID)
	assert.Zero(t, pending[0].RetryCount)

	moved, err = svc.Requeue(ctx, &RequeueRequest{RequestedBy: "admin", All: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, moved)

	stats, err := svc.OutboxStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutboxStats{Pending: 3}, *stats)
}

func TestAuditOutboxRequeueValidation(t *testing.T) {
	svc := NewAuditService(testutil.NewDB(t), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RequeueRequest
	}{
		{"empty", RequeueRequest{}},
		{"ids and all", RequeueRequest{IDs: []int64{1}, All: true}},
		{"bad id", RequeueRequest{IDs: []int64{0}}},
		{"too many", RequeueRequest{IDs: make([]int64, maxRequeueIDs+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Requeue(ctx, &tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}
