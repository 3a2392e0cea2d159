package database

import (
	"path/filepath"
	"testing"

	"agentledger/internal/config"
	"agentledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxIdleConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	}
	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	for _, table := range []interface{}{
		&model.Shop{}, &model.Provider{}, &model.SuperAgent{},
		&model.Transaction{}, &model.FloatMovement{}, &model.BalanceAdjustment{},
		&model.FloatBalance{}, &model.CashBalance{},
		&model.AuditLog{}, &model.AuditOutbox{},
	} {
		assert.True(t, db.Migrator().HasTable(table))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}
