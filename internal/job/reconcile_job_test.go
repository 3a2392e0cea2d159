package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubVerifier struct {
	report map[string][]model.Drift
	err    error
	calls  int
}

func (s *stubVerifier) VerifyAll(context.Context) (map[string][]model.Drift, error) {
	s.calls++
	return s.report, s.err
}

func drift(shopID string, diff int64) model.Drift {
	d := decimal.NewFromInt(diff)
	return model.Drift{ShopID: shopID, Target: model.AdjustmentTargetCash, Difference: d, Severity: model.SeverityOf(d)}
}

func TestReconcileJobLogsDrift(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	verifier := &stubVerifier{report: map[string][]model.Drift{
		"shop-1": {drift("shop-1", 50)},
		"shop-2": {drift("shop-2", 10), drift("shop-2", 9000)},
	}}

	job := NewReconcileJob(verifier, time.Hour, zap.New(core))
	assert.Equal(t, 3, job.RunOnce(context.Background()))

	assert.Equal(t, 1, logs.FilterMessage("shop balances drifted").FilterField(zap.String("shop_id", "shop-1")).FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("shop balances drifted").FilterField(zap.String("shop_id", "shop-2")).FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("verification finished").Len())
}

func TestReconcileJobKeepsPartialReport(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	verifier := &stubVerifier{
		report: map[string][]model.Drift{"shop-1": {drift("shop-1", 1)}},
		err:    errors.New("shop shop-9: storage failure"),
	}

	job := NewReconcileJob(verifier, time.Hour, zap.New(core))
	assert.Equal(t, 1, job.RunOnce(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("verify shops").Len())
}

func TestReconcileJobTicks(t *testing.T) {
	verifier := &stubVerifier{}
	job := NewReconcileJob(verifier, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.Positive(t, verifier.calls)
}
