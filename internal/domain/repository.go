// Package domain defines the core interfaces and types for Fraudwatch.
package domain

import (
	"context"
	"time"
)

// RuleStore supplies the active rule definitions, in creation order.
type RuleStore interface {
	FetchActiveRules(ctx context.Context) ([]*Rule, error)
}

// RuleWriter manages rule definitions. File-backed rule stores are read-only
// and do not implement it.
type RuleWriter interface {
	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
	DeactivateRule(ctx context.Context, ruleID string) error
}

// MetricsStore persists per-rule metrics between restarts.
type MetricsStore interface {
	SaveMetrics(ctx context.Context, metrics []RuleMetrics) error
	LoadMetrics(ctx context.Context) ([]RuleMetrics, error)
}

// AlertSink receives one alert per triggered rule.
type AlertSink interface {
	SaveAlerts(ctx context.Context, alerts []*Alert) error
}

// Repository defines the interface for data persistence.
type Repository interface {
	RuleStore
	RuleWriter
	MetricsStore
	AlertSink

	// Alerts
	ListAlerts(ctx context.Context, txID string) ([]*Alert, error)

	// Check records
	SaveCheck(ctx context.Context, check *CheckRecord) error
	GetCheck(ctx context.Context, txID string) (*CheckRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_sslmode"`
	// ApplicationName is reported to the server in pg_stat_activity
	ApplicationName string `json:"applicationName" yaml:"application_name"`

	// ConnectTimeout bounds dialing and the startup ping, in seconds
	ConnectTimeout int `json:"connectTimeout" yaml:"connect_timeout"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}

// RulesConfig selects where rule definitions come from.
type RulesConfig struct {
	// Source is "database" or "file"
	Source string `json:"source" yaml:"source"`

	// File is the YAML rule file used when Source is "file"
	File string `json:"file" yaml:"file"`
}

// MetricsStoreConfig holds configuration for rule metrics persistence.
type MetricsStoreConfig struct {
	// Type is the store type: "sql", "redis" or "none"
	Type string `json:"type" yaml:"type"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"redis_password"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db"`

	// FlushSchedule is a cron spec for flushing metrics, e.g. "@every 30s"
	FlushSchedule string `json:"flushSchedule" yaml:"flush_schedule"`
}
