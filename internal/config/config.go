package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"agentledger/pkg/idgen"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Log            LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
	// WorkerID seeds the snowflake generator behind journal numbers and Seq.
	// 0 is only accepted for a single instance on the local lock backend.
	WorkerID int64 `mapstructure:"worker_id"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	Path         string `mapstructure:"path"` // sqlite only
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Audit string `mapstructure:"audit"`
}

const (
	NegativeBalanceAllow  = "allow"
	NegativeBalanceFlag   = "flag"
	NegativeBalanceReject = "reject"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	AuditSinkKafka = "kafka"
	AuditSinkStore = "store"
	AuditSinkBoth  = "both"
)

type LedgerConfig struct {
	NegativeBalancePolicy string        `mapstructure:"negative_balance_policy"`
	LockBackend           string        `mapstructure:"lock_backend"`
	LockTimeout           time.Duration `mapstructure:"lock_timeout"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
	LockPrefix            string        `mapstructure:"lock_prefix"` // redis key namespace, empty keeps the default
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
}

type AuditConfig struct {
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	Sink          string        `mapstructure:"sink"`
}

type ReconciliationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// defaults are plain values, unmarshal cannot fail
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 0)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.name", "agentledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "agentledger.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.audit", "ledger.audit")

	v.SetDefault("ledger.negative_balance_policy", NegativeBalanceFlag)
	v.SetDefault("ledger.lock_backend", LockBackendLocal)
	v.SetDefault("ledger.lock_timeout", 5*time.Second)
	v.SetDefault("ledger.lock_ttl", 30*time.Second)
	v.SetDefault("ledger.lock_prefix", "")
	v.SetDefault("ledger.max_retries", 5)
	v.SetDefault("ledger.retry_base_delay", 10*time.Millisecond)

	v.SetDefault("audit.relay_interval", 500*time.Millisecond)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.max_retries", 5)
	v.SetDefault("audit.sink", AuditSinkStore)

	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.interval", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads configPath (yaml) on top of the defaults. A .env file in
// the working directory is loaded first, and every key can be overridden
// with an AGENTLEDGER_ prefixed environment variable, e.g.
// AGENTLEDGER_LEDGER_LOCK_BACKEND=redis.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AGENTLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Ledger.NegativeBalancePolicy {
	case NegativeBalanceAllow, NegativeBalanceFlag, NegativeBalanceReject:
	default:
		return fmt.Errorf("config: unknown ledger.negative_balance_policy %q", c.Ledger.NegativeBalancePolicy)
	}
	switch c.Ledger.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("config: unknown ledger.lock_backend %q", c.Ledger.LockBackend)
	}
	switch c.Audit.Sink {
	case AuditSinkKafka, AuditSinkStore, AuditSinkBoth:
	default:
		return fmt.Errorf("config: unknown audit.sink %q", c.Audit.Sink)
	}
	if c.Audit.Sink != AuditSinkStore && !c.Kafka.Enabled {
		return fmt.Errorf("config: audit.sink %q requires kafka.enabled", c.Audit.Sink)
	}
	if c.Server.WorkerID < 0 || c.Server.WorkerID > idgen.MaxWorkerID {
		return fmt.Errorf("config: server.worker_id must be between 0 and %d", idgen.MaxWorkerID)
	}
	if c.Ledger.LockBackend == LockBackendRedis && c.Server.WorkerID == 0 {
		return errors.New("config: ledger.lock_backend redis runs several instances, set a distinct server.worker_id (1-1023) on each")
	}
	if c.Ledger.MaxRetries < 0 {
		return errors.New("config: ledger.max_retries must not be negative")
	}
	if c.Ledger.LockTimeout <= 0 {
		return errors.New("config: ledger.lock_timeout must be positive")
	}
	if c.Audit.BatchSize <= 0 {
		return errors.New("config: audit.batch_size must be positive")
	}
	return nil
}
