// Package config provides configuration management for stockpulse.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, PROCESSOR_BATCH_SIZE)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Security     SecurityConfig     `mapstructure:"security"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Processor    ProcessorConfig    `mapstructure:"processor"`
	Backpressure BackpressureConfig `mapstructure:"backpressure"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Rolling      RollingConfig      `mapstructure:"rolling"`
	Reorder      ReorderConfig      `mapstructure:"reorder"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// The pool is shared by the pipeline stores and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// StorageConfig selects the pipeline backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres or memory
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains API authentication settings.
// A missing signing key is generated on boot.
type SecurityConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
	// JWTVerificationKeys are accepted in addition to the signing key
	// during key rotation.
	JWTVerificationKeys []string `mapstructure:"jwt_verification_keys"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	RulesPoolSize   int `mapstructure:"rules_pool_size"`
}

// ProcessorConfig tunes the queue processor.
type ProcessorConfig struct {
	BatchSize   int           `mapstructure:"batch_size"`
	TimeBudget  time.Duration `mapstructure:"time_budget"`
	RuleTimeout time.Duration `mapstructure:"rule_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Interval    time.Duration `mapstructure:"interval"`
	// RetryInterval schedules automatic dead letter retries.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// BackpressureConfig contains the intake queue limits.
type BackpressureConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxQueueSize  int64         `mapstructure:"max_queue_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	ThrottleRate  float64       `mapstructure:"throttle_rate"`
	ThrottleBurst int           `mapstructure:"throttle_burst"`
}

// RetentionConfig holds retention horizons in days.
type RetentionConfig struct {
	DailyStatsDays int `mapstructure:"daily_stats_days"`
	DeadLetterDays int `mapstructure:"dead_letter_days"`
	EventLogDays   int `mapstructure:"event_log_days"`
	PrecreateDays  int `mapstructure:"precreate_days"`
}

// RollingConfig configures rolling statistics.
type RollingConfig struct {
	// HybridWarehouses also get combined sale+transfer statistics.
	HybridWarehouses []int64 `mapstructure:"hybrid_warehouses"`
}

// ReorderConfig locates the reorder rules snapshot.
type ReorderConfig struct {
	RulesFile string `mapstructure:"rules_file"`
	Watch     bool   `mapstructure:"watch"`
}

// CatalogConfig names the product and warehouse tables of the host ERP.
type CatalogConfig struct {
	ProductTable      string `mapstructure:"product_table"`
	ProductIDColumn   string `mapstructure:"product_id_column"`
	ProductActiveCol  string `mapstructure:"product_active_column"`
	WarehouseTable    string `mapstructure:"warehouse_table"`
	WarehouseIDColumn string `mapstructure:"warehouse_id_column"`
	LocationColumn    string `mapstructure:"location_column"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Environment variables carry no prefix (DATABASE_URL, SERVER_PORT, ...).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/stockpulse")

	// Maps nested config: processor.batch_size → PROCESSOR_BATCH_SIZE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Storage.Driver)
	}
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be positive")
	}
	if c.Processor.TimeBudget <= 0 {
		return fmt.Errorf("processor.time_budget must be positive")
	}
	if c.Processor.Interval > 0 && c.Processor.TimeBudget >= c.Processor.Interval {
		return fmt.Errorf("processor.time_budget (%s) must be shorter than processor.interval (%s)",
			c.Processor.TimeBudget, c.Processor.Interval)
	}
	if c.Retention.DailyStatsDays < 90 {
		return fmt.Errorf("retention.daily_stats_days must cover the 90-day window, got %d", c.Retention.DailyStatsDays)
	}
	if c.Retention.EventLogDays <= 0 || c.Retention.DeadLetterDays <= 0 {
		return fmt.Errorf("retention.event_log_days and retention.dead_letter_days must be positive")
	}
	if c.Retention.PrecreateDays < 0 {
		return fmt.Errorf("retention.precreate_days must not be negative")
	}
	for _, id := range c.Rolling.HybridWarehouses {
		if id <= 0 {
			return fmt.Errorf("rolling.hybrid_warehouses: invalid warehouse id %d", id)
		}
	}
	return nil
}

// ensureSecrets generates a missing JWT signing key.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = key
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "stockpulse")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "stockpulse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 30)
	v.SetDefault("database.min_conns", 4)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("storage.driver", DriverPostgres)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 4)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.jwt_issuer", "stockpulse")
	v.SetDefault("security.jwt_verification_keys", []string{})

	// Worker pools
	v.SetDefault("worker.general_pool_size", 16)
	v.SetDefault("worker.rules_pool_size", 8)

	// Processor
	v.SetDefault("processor.batch_size", 500)
	v.SetDefault("processor.time_budget", "50s")
	v.SetDefault("processor.rule_timeout", "2s")
	v.SetDefault("processor.max_retries", 3)
	v.SetDefault("processor.interval", "1m")
	v.SetDefault("processor.retry_interval", "15m")

	// Backpressure
	v.SetDefault("backpressure.max_age", "5m")
	v.SetDefault("backpressure.max_queue_size", 100000)
	v.SetDefault("backpressure.cache_ttl", "5s")
	v.SetDefault("backpressure.throttle_rate", 200.0)
	v.SetDefault("backpressure.throttle_burst", 500)

	// Retention
	v.SetDefault("retention.daily_stats_days", 400)
	v.SetDefault("retention.dead_letter_days", 30)
	v.SetDefault("retention.event_log_days", 90)
	v.SetDefault("retention.precreate_days", 7)

	v.SetDefault("rolling.hybrid_warehouses", []int64{})

	v.SetDefault("reorder.rules_file", "")
	v.SetDefault("reorder.watch", true)

	// Catalog
	v.SetDefault("catalog.product_table", "product_product")
	v.SetDefault("catalog.product_id_column", "id")
	v.SetDefault("catalog.product_active_column", "active")
	v.SetDefault("catalog.warehouse_table", "stock_warehouse")
	v.SetDefault("catalog.warehouse_id_column", "id")
	v.SetDefault("catalog.location_column", "lot_stock_id")
}
