package domain

// Config holds the complete Fraudwatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier selects the default backing services
	Tier Tier `json:"tier" yaml:"tier"`

	// Component configurations
	Rules        RulesConfig        `json:"rules" yaml:"rules"`
	Repository   RepositoryConfig   `json:"repository" yaml:"repository"`
	MetricsStore MetricsStoreConfig `json:"metricsStore" yaml:"metrics_store"`
	EventBus     EventBusConfig     `json:"eventBus" yaml:"event_bus"`
	Worker       WorkerConfig       `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// WorkerConfig controls the asynchronous ingestion worker.
type WorkerConfig struct {
	// Enabled subscribes the worker to the transaction ingestion topic
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`

	// SampleRatio is the fraction of new traces recorded; 0 means all.
	// Requests that arrive with a sampled parent are always recorded.
	SampleRatio float64 `json:"sampleRatio" yaml:"sample_ratio"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Rules: RulesConfig{
			Source: "database",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudwatch.db",
		},
		MetricsStore: MetricsStoreConfig{
			Type:          "sql",
			FlushSchedule: "@every 30s",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudwatch",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudwatch",

		ApplicationName: "fraudwatch",
		ConnectTimeout:  5,
	}
	cfg.MetricsStore = MetricsStoreConfig{
		Type:          "redis",
		RedisAddr:     "localhost:6379",
		FlushSchedule: "@every 15s",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
