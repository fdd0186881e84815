// Package config loads Fraudwatch configuration from tier defaults, an
// optional YAML file and FRAUDWATCH_* environment variables, applied in
// that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration. An empty path skips the file layer.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("FRAUDWATCH_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *domain.Config) {
	cfg.Server.Host = getEnv("FRAUDWATCH_HOST", cfg.Server.Host)
	cfg.Server.Port = getIntEnv("FRAUDWATCH_PORT", cfg.Server.Port)

	cfg.Rules.Source = getEnv("FRAUDWATCH_RULES_SOURCE", cfg.Rules.Source)
	cfg.Rules.File = getEnv("FRAUDWATCH_RULES_FILE", cfg.Rules.File)

	// Database
	cfg.Repository.Driver = getEnv("FRAUDWATCH_DB_DRIVER", cfg.Repository.Driver)
	cfg.Repository.SQLitePath = getEnv("FRAUDWATCH_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("FRAUDWATCH_DB_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getIntEnv("FRAUDWATCH_DB_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("FRAUDWATCH_DB_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("FRAUDWATCH_DB_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("FRAUDWATCH_DB_NAME", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("FRAUDWATCH_DB_SSLMODE", cfg.Repository.PostgresSSLMode)
	cfg.Repository.ApplicationName = getEnv("FRAUDWATCH_DB_APP_NAME", cfg.Repository.ApplicationName)
	cfg.Repository.ConnectTimeout = getIntEnv("FRAUDWATCH_DB_CONNECT_TIMEOUT", cfg.Repository.ConnectTimeout)

	// Metrics persistence
	cfg.MetricsStore.Type = getEnv("FRAUDWATCH_METRICS_STORE", cfg.MetricsStore.Type)
	cfg.MetricsStore.RedisAddr = getEnv("FRAUDWATCH_REDIS_ADDR", cfg.MetricsStore.RedisAddr)
	cfg.MetricsStore.RedisPassword = getEnv("FRAUDWATCH_REDIS_PASSWORD", cfg.MetricsStore.RedisPassword)
	cfg.MetricsStore.RedisDB = getIntEnv("FRAUDWATCH_REDIS_DB", cfg.MetricsStore.RedisDB)
	cfg.MetricsStore.FlushSchedule = getEnv("FRAUDWATCH_METRICS_FLUSH", cfg.MetricsStore.FlushSchedule)

	// Event bus
	cfg.EventBus.Type = getEnv("FRAUDWATCH_BUS", cfg.EventBus.Type)
	cfg.EventBus.NATSUrl = getEnv("FRAUDWATCH_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("FRAUDWATCH_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.Worker.Enabled = getBoolEnv("FRAUDWATCH_WORKER", cfg.Worker.Enabled)

	cfg.Logging.Level = getEnv("FRAUDWATCH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("FRAUDWATCH_LOG_FORMAT", cfg.Logging.Format)
	if getBoolEnv("FRAUDWATCH_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}
	cfg.Tracing.Enabled = getBoolEnv("FRAUDWATCH_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.ServiceName = getEnv("FRAUDWATCH_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.SampleRatio = getFloatEnv("FRAUDWATCH_TRACING_SAMPLE_RATIO", cfg.Tracing.SampleRatio)
}

func validate(cfg *domain.Config) error {
	switch cfg.Rules.Source {
	case "database":
	case "file":
		if cfg.Rules.File == "" {
			return fmt.Errorf("rules source is file but no rules file is set")
		}
	default:
		return fmt.Errorf("unknown rules source: %q", cfg.Rules.Source)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing sample ratio %v outside [0,1]", r)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
