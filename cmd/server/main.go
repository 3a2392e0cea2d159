package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentledger/internal/audit"
	"agentledger/internal/config"
	"agentledger/internal/handler"
	"agentledger/internal/infrastructure/cache"
	"agentledger/internal/infrastructure/database"
	"agentledger/internal/infrastructure/lock"
	"agentledger/internal/infrastructure/logger"
	"agentledger/internal/infrastructure/mq"
	"agentledger/internal/job"
	"agentledger/internal/repository"
	"agentledger/internal/service"
	"agentledger/pkg/idgen"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	configPath := defaultConfigPath
	if p := os.Getenv("AGENTLEDGER_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database, zl)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	locker, err := newLocker(ctx, cfg, zl)
	if err != nil {
		return err
	}

	emitter, closeEmitter, err := newAuditEmitter(cfg, db)
	if err != nil {
		return err
	}
	defer closeEmitter()

	shops := service.NewShopService(db, zl)
	ledger := service.NewLedgerService(db, locker, &cfg.Ledger, zl)
	reconcile := service.NewReconcileService(db, locker, &cfg.Ledger, zl)
	audits := service.NewAuditService(db, zl)

	relay := job.NewAuditRelay(db, emitter, &cfg.Audit, zl)
	go relay.Start(ctx)
	defer relay.Stop()

	if cfg.Reconciliation.Enabled {
		reconcileJob := job.NewReconcileJob(reconcile, cfg.Reconciliation.Interval, zl)
		go reconcileJob.Start(ctx)
		defer reconcileJob.Stop()
	}

	gin.SetMode(cfg.Server.Mode)
	router := handler.SetupRouter(handler.NewHandler(shops, ledger, reconcile, audits, zl), zl)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.Int64("worker_id", cfg.Server.WorkerID),
			zap.String("negative_balance_policy", string(ledger.NegativeBalancePolicy())),
			zap.String("lock_backend", cfg.Ledger.LockBackend),
			zap.String("audit_sink", cfg.Audit.Sink),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server shutdown", zap.Error(err))
	}

	zl.Info("server stopped")
	return nil
}

func newLocker(ctx context.Context, cfg *config.Config, zl *zap.Logger) (lock.Locker, error) {
	if cfg.Ledger.LockBackend != config.LockBackendRedis {
		return lock.NewLocalLocker(cfg.Ledger.LockTimeout), nil
	}
	client, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLocker(client, cfg.Ledger.LockTTL, cfg.Ledger.LockTimeout, lock.WithLogger(zl), lock.WithPrefix(cfg.Ledger.LockPrefix)), nil
}

// newAuditEmitter picks the audit sink. The returned func releases the
// Kafka producer, if one was opened.
func newAuditEmitter(cfg *config.Config, db *gorm.DB) (audit.Emitter, func(), error) {
	store := audit.NewStoreEmitter(repository.NewAuditRepository(db))
	if cfg.Audit.Sink == config.AuditSinkStore {
		return store, func() {}, nil
	}

	producer, err := mq.NewProducer(&cfg.Kafka)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { _ = producer.Close() }
	kafka := audit.NewKafkaEmitter(producer, cfg.Kafka.Topic.Audit)

	if cfg.Audit.Sink == config.AuditSinkBoth {
		return audit.NewMultiEmitter(store, kafka), closeFn, nil
	}
	return kafka, closeFn, nil
}
