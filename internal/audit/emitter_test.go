package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"agentledger/internal/infrastructure/mq"
	"agentledger/internal/model"
	"agentledger/internal/repository"
	"agentledger/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(t *testing.T) Event {
	t.Helper()
	event, err := NewEvent(model.AuditActionReverse, "shop-1", "user-1", EntityTransaction, "txn-1", map[string]string{"reason": "typo"})
	require.NoError(t, err)
	return event
}

func TestKafkaEmitterPublishesJSON(t *testing.T) {
	event := testEvent(t)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got Event
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.ID != event.ID {
			return errors.New("unexpected event " + got.ID)
		}
		return nil
	})
	p := mq.NewProducerFrom(producer)
	defer p.Close()

	require.NoError(t, NewKafkaEmitter(p, "ledger.audit").Emit(context.Background(), event))
}

func TestKafkaEmitterSurfacesBrokerErrors(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := mq.NewProducerFrom(producer)
	defer p.Close()

	err := NewKafkaEmitter(p, "ledger.audit").Emit(context.Background(), testEvent(t))
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
}

func TestStoreEmitterIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := repository.NewAuditRepository(db)
	emitter := NewStoreEmitter(repo)
	ctx := context.Background()

	event := testEvent(t)
	require.NoError(t, emitter.Emit(ctx, event))
	require.NoError(t, emitter.Emit(ctx, event))

	bare, err := NewEvent(model.AuditActionCreate, "shop-1", "", EntityShop, "shop-1", nil)
	require.NoError(t, err)
	require.NoError(t, emitter.Emit(ctx, bare))

	logs, err := repo.ListByEntity(ctx, EntityTransaction, "txn-1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, event.ID, logs[0].ID)
	assert.JSONEq(t, `{"reason":"typo"}`, string(logs[0].Details))

	shopLogs, err := repo.ListByEntity(ctx, EntityShop, "shop-1")
	require.NoError(t, err)
	require.Len(t, shopLogs, 1)
	assert.JSONEq(t, `{}`, string(shopLogs[0].Details))
}

type recordingEmitter struct {
	err    error
	events []Event
}

func (r *recordingEmitter) Emit(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMultiEmitterTriesEverySink(t *testing.T) {
	broken := &recordingEmitter{err: errors.New("sink down")}
	healthy := &recordingEmitter{}

	err := NewMultiEmitter(broken, healthy).Emit(context.Background(), testEvent(t))
	assert.ErrorContains(t, err, "sink down")
	assert.Len(t, broken.events, 1)
	assert.Len(t, healthy.events, 1)

	assert.NoError(t, NewMultiEmitter(healthy).Emit(context.Background(), testEvent(t)))
}
