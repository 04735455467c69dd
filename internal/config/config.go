package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Scanner  ScannerConfig  `mapstructure:"scanner" validate:"required"`
	Batch    BatchConfig    `mapstructure:"batch" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFile         string        `mapstructure:"log_file"`
	LogMaxSizeMB    int           `mapstructure:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups   int           `mapstructure:"log_max_backups" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gt=0"`
}

// RedisConfig points at the Redis instance backing the job queue.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// QueueConfig holds the retry policy applied to every job type.
type QueueConfig struct {
	Name        string        `mapstructure:"name" validate:"required"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1,lte=25"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

// WorkerConfig bounds the job worker.
type WorkerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency" validate:"gte=1,lte=100"`
}

// ScannerConfig controls the periodic overdue scan.
type ScannerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Schedule         string        `mapstructure:"schedule" validate:"required"`
	BatchSize        int           `mapstructure:"batch_size" validate:"gte=1,lte=10000"`
	OverdueThreshold time.Duration `mapstructure:"overdue_threshold" validate:"gte=0"`
}

// BatchConfig limits bulk operations.
type BatchConfig struct {
	MaxSize int `mapstructure:"max_size" validate:"gte=1,lte=10000"`
}

// NotifyConfig configures the overdue notification transport.
// An empty NATSURL selects the log-only notifier.
type NotifyConfig struct {
	NATSURL string `mapstructure:"nats_url" validate:"omitempty,url"`
	Subject string `mapstructure:"subject" validate:"required"`
}
