package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, NegativeBalanceFlag, cfg.Ledger.NegativeBalancePolicy)
	assert.Equal(t, LockBackendLocal, cfg.Ledger.LockBackend)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, AuditSinkStore, cfg.Audit.Sink)
}

func TestLoadConfigFileValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
database:
  driver: sqlite
  path: /tmp/ledger.db
ledger:
  negative_balance_policy: reject
  lock_timeout: 250ms
  max_retries: 2
`))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, NegativeBalanceReject, cfg.Ledger.NegativeBalancePolicy)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.Equal(t, 2, cfg.Ledger.MaxRetries)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AGENTLEDGER_LEDGER_LOCK_BACKEND", "redis")
	t.Setenv("AGENTLEDGER_REDIS_PORT", "6380")
	t.Setenv("AGENTLEDGER_SERVER_WORKER_ID", "7")

	cfg, err := LoadConfig(writeConfig(t, "ledger:\n  lock_backend: local\n"))
	require.NoError(t, err)

	assert.Equal(t, LockBackendRedis, cfg.Ledger.LockBackend)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, int64(7), cfg.Server.WorkerID)
}

func TestLoadConfigRedisNeedsWorkerID(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "ledger:\n  lock_backend: redis\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.worker_id")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"unknown policy", func(c *Config) { c.Ledger.NegativeBalancePolicy = "maybe" }, true},
		{"unknown lock backend", func(c *Config) { c.Ledger.LockBackend = "etcd" }, true},
		{"unknown sink", func(c *Config) { c.Audit.Sink = "s3" }, true},
		{"kafka sink without kafka", func(c *Config) { c.Audit.Sink = AuditSinkKafka }, true},
		{"kafka sink with kafka", func(c *Config) {
			c.Audit.Sink = AuditSinkBoth
			c.Kafka.Enabled = true
		}, false},
		{"negative retries", func(c *Config) { c.Ledger.MaxRetries = -1 }, true},
		{"zero lock timeout", func(c *Config) { c.Ledger.LockTimeout = 0 }, true},
		{"zero batch", func(c *Config) { c.Audit.BatchSize = 0 }, true},
		{"worker id out of range", func(c *Config) { c.Server.WorkerID = 1024 }, true},
		{"redis without worker id", func(c *Config) { c.Ledger.LockBackend = LockBackendRedis }, true},
		{"redis with worker id", func(c *Config) {
			c.Ledger.LockBackend = LockBackendRedis
			c.Server.WorkerID = 3
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
