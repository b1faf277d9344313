// Package config provides configuration loading and management for the
// wait/notify service. Configuration is read from a YAML file and any unset
// value falls back to a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
	// StorageModeSQLite uses a SQLite store with in-process queue and locks.
	StorageModeSQLite StorageMode = "sqlite"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage || m == StorageModeSQLite
}

// LeaderMode selects how background jobs decide whether to run.
type LeaderMode string

const (
	// LeaderModeStatic uses the primary and maintenance flags as configured.
	LeaderModeStatic LeaderMode = "static"
	// LeaderModeLease campaigns for a lease through the lock service.
	LeaderModeLease LeaderMode = "lease"
)

// IsValid returns true if the leader mode is valid.
func (m LeaderMode) IsValid() bool {
	return m == LeaderModeStatic || m == LeaderModeLease
}

// Config represents the complete application configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Logger   LoggerConfig   `yaml:"logger"`
	Engine   EngineConfig   `yaml:"engine"`
	Listener ListenerConfig `yaml:"listener"`
	Notifier NotifierConfig `yaml:"notifier"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Leader   LeaderConfig   `yaml:"leader"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// UseSQLite returns true if the SQLite store should be used.
func (c *StorageConfig) UseSQLite() bool {
	return c.Mode == StorageModeSQLite
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// EngineConfig holds wait registration settings.
type EngineConfig struct {
	// WaitTTL is how long wait instances are retained.
	WaitTTL time.Duration `yaml:"wait_ttl"`

	// QueueBufferSize sizes the in-memory queue in memory and sqlite modes.
	QueueBufferSize int `yaml:"queue_buffer_size"`
}

// ListenerConfig holds notify event listener settings.
type ListenerConfig struct {
	// LockLease is the lease of the per-wait-instance lock.
	LockLease time.Duration `yaml:"lock_lease"`

	// PartialWarnEvery logs one in every N partial-arrival events at warn.
	PartialWarnEvery int `yaml:"partial_warn_every"`

	// PartialErrorThreshold logs at error when more ids than this are missing.
	PartialErrorThreshold int `yaml:"partial_error_threshold"`
}

// NotifierConfig holds liveness sweep settings.
type NotifierConfig struct {
	Interval      time.Duration `yaml:"interval"`
	PageSize      int           `yaml:"page_size"`
	LockLease     time.Duration `yaml:"lock_lease"`
	WarnThreshold int           `yaml:"warn_threshold"`
}

// CleanupConfig holds response reaper settings.
type CleanupConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Grace     time.Duration `yaml:"grace"`

	// PendingRetention is how long an unconsumed response nobody waits on
	// is kept before it is reaped.
	PendingRetention time.Duration `yaml:"pending_retention"`
}

// LeaderConfig holds background job leadership settings.
type LeaderConfig struct {
	Mode        LeaderMode    `yaml:"mode"`
	Primary     bool          `yaml:"primary"`
	Maintenance bool          `yaml:"maintenance"`
	Lease       time.Duration `yaml:"lease"`
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for any unset values
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if !c.Storage.Mode.IsValid() {
		return fmt.Errorf("invalid storage mode %q", c.Storage.Mode)
	}
	if !c.Leader.Mode.IsValid() {
		return fmt.Errorf("invalid leader mode %q", c.Leader.Mode)
	}
	return nil
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "waitnotify-events"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "waitnotify-listener"
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// SQLite defaults
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "waitnotify.db"
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}

	// Engine defaults
	if cfg.Engine.WaitTTL == 0 {
		cfg.Engine.WaitTTL = 7 * 24 * time.Hour
	}
	if cfg.Engine.QueueBufferSize == 0 {
		cfg.Engine.QueueBufferSize = 10000
	}

	// Listener defaults
	if cfg.Listener.LockLease == 0 {
		cfg.Listener.LockLease = time.Minute
	}
	if cfg.Listener.PartialWarnEvery == 0 {
		cfg.Listener.PartialWarnEvery = 100
	}
	if cfg.Listener.PartialErrorThreshold == 0 {
		cfg.Listener.PartialErrorThreshold = 1000
	}

	// Notifier defaults
	if cfg.Notifier.Interval == 0 {
		cfg.Notifier.Interval = time.Minute
	}
	if cfg.Notifier.PageSize == 0 {
		cfg.Notifier.PageSize = 1000
	}
	if cfg.Notifier.LockLease == 0 {
		cfg.Notifier.LockLease = time.Minute
	}
	if cfg.Notifier.WarnThreshold == 0 {
		cfg.Notifier.WarnThreshold = 100
	}

	// Cleanup defaults
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = time.Minute
	}
	if cfg.Cleanup.BatchSize == 0 {
		cfg.Cleanup.BatchSize = 2500
	}
	if cfg.Cleanup.Grace == 0 {
		cfg.Cleanup.Grace = time.Minute
	}
	if cfg.Cleanup.PendingRetention == 0 {
		cfg.Cleanup.PendingRetention = 7 * 24 * time.Hour
	}

	// Leader defaults
	if cfg.Leader.Mode == "" {
		cfg.Leader.Mode = LeaderModeStatic
	}
	if cfg.Leader.Lease == 0 {
		cfg.Leader.Lease = 30 * time.Second
	}
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
