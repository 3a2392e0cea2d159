package job

import (
	"context"
	"time"

	"agentledger/internal/model"

	"go.uber.org/zap"
)

// Verifier checks every shop's balances against the journal.
type Verifier interface {
	VerifyAll(ctx context.Context) (map[string][]model.Drift, error)
}

// ReconcileJob runs a read-only verification of all shops on an interval
// and logs what it finds. Repairs stay a deliberate, per-shop action.
type ReconcileJob struct {
	verifier Verifier
	log      *zap.Logger
	stopCh   chan struct{}
	interval time.Duration
}

func NewReconcileJob(verifier Verifier, interval time.Duration, log *zap.Logger) *ReconcileJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileJob{
		verifier: verifier,
		log:      log.Named("reconcile_job"),
		stopCh:   make(chan struct{}),
		interval: interval,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("reconciliation job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("reconciliation job stopping: context done")
			return
		case <-j.stopCh:
			j.log.Info("reconciliation job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce verifies every shop and returns the number of drifting balances.
func (j *ReconcileJob) RunOnce(ctx context.Context) int {
	started := time.Now()
	report, err := j.verifier.VerifyAll(ctx)
	if err != nil {
		j.log.Error("verify shops", zap.Error(err))
	}

	total := 0
	for shopID, drifts := range report {
		total += len(drifts)
		worst := model.SeverityLow
		for _, d := range drifts {
			if severityRank[d.Severity] > severityRank[worst] {
				worst = d.Severity
			}
		}
		fields := []zap.Field{
			zap.String("shop_id", shopID),
			zap.Int("drifts", len(drifts)),
			zap.String("worst_severity", string(worst)),
		}
		if worst == model.SeverityCritical {
			j.log.Error("shop balances drifted", fields...)
		} else {
			j.log.Warn("shop balances drifted", fields...)
		}
	}

	j.log.Info("verification finished",
		zap.Int("drifting_shops", len(report)),
		zap.Int("drifts", total),
		zap.Duration("took", time.Since(started)),
	)
	return total
}

var severityRank = map[model.Severity]int{
	model.SeverityLow:      0,
	model.SeverityMedium:   1,
	model.SeverityHigh:     2,
	model.SeverityCritical: 3,
}
