package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `env:", prefix=SERVER_"`
	Mongo      MongoConfig      `env:", prefix=MONGO_"`
	SourceA    SourceHTTPConfig `env:", prefix=SOURCE_A_"`
	SourceB    SourceFileConfig `env:", prefix=SOURCE_B_"`
	SourceC    SourceHTTPConfig `env:", prefix=SOURCE_C_"`
	ETL        ETLConfig        `env:", prefix=ETL_"`
	Scheduler  SchedulerConfig  `env:", prefix=SCHEDULER_"`
	Logging    LoggingConfig    `env:", prefix=LOG_"`
	Monitoring MonitoringConfig `env:", prefix=MONITORING_"`

	RateLimits map[Source]RateLimitConfig
}

// Source mirrors models.Source without importing pkg/models, to keep
// config free of a dependency on the domain package.
type Source string

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
}

// MongoConfig holds the document store connection.
type MongoConfig struct {
	URI            string        `env:"URI, default=mongodb://localhost:27017"`
	Database       string        `env:"DATABASE, default=ingestpipe"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT, default=10s"`
}

// SourceHTTPConfig holds connection/cap settings for an HTTP/JSON source.
type SourceHTTPConfig struct {
	URL        string        `env:"URL"`
	Timeout    time.Duration `env:"TIMEOUT, default=10s"`
	RecordCap  int           `env:"RECORD_CAP, default=10"`
}

// SourceFileConfig holds settings for the tabular (CSV) source.
type SourceFileConfig struct {
	Path      string `env:"PATH"`
	RecordCap int    `env:"RECORD_CAP, default=5"`
}

// RateLimitConfig holds one source's token-bucket parameters, implementing
// the `rateLimits.{sourceId}.*` configuration surface.
type RateLimitConfig struct {
	RequestsPerMinute int `env:"REQUESTS_PER_MINUTE, default=60"`
	BurstCapacity     int `env:"BURST_CAPACITY, default=10"`
	RetryBackoffMs    int `env:"RETRY_BACKOFF_MS, default=1000"`
}

// ETLConfig holds orchestrator-wide tuning.
type ETLConfig struct {
	BatchSize      int    `env:"BATCH_SIZE, default=5"`
	FaultInjection bool   `env:"FAULT_INJECTION, default=false"`
	SchemaAliases  string `env:"SCHEMA_ALIASES"` // optional path to extra alias JSON
}

// SchedulerConfig holds the external trigger cadence.
type SchedulerConfig struct {
	IntervalCron string `env:"INTERVAL_CRON, default=0 */15 * * * *"`
	Enabled      bool   `env:"ENABLED, default=true"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// MonitoringConfig holds metrics exposition configuration.
type MonitoringConfig struct {
	MetricsEnabled bool   `env:"METRICS_ENABLED, default=true"`
	MetricsPath    string `env:"METRICS_PATH, default=/metrics"`
}

// Load loads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	cfg.RateLimits = map[Source]RateLimitConfig{}
	for _, src := range []struct {
		id     Source
		prefix string
	}{
		{"A", "RATE_LIMIT_A_"},
		{"B", "RATE_LIMIT_B_"},
		{"C", "RATE_LIMIT_C_"},
	} {
		var rl RateLimitConfig
		if err := envconfig.ProcessWith(ctx, &envconfig.Config{
			Target: &rl,
			Lookuper: envconfig.PrefixLookuper(src.prefix, envconfig.OsLookuper()),
		}); err != nil {
			return nil, fmt.Errorf("failed to process rate limit config for source %s: %w", src.id, err)
		}
		cfg.RateLimits[src.id] = rl
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo URI is required")
	}

	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo database is required")
	}

	if c.ETL.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.ETL.BatchSize)
	}

	return nil
}

// GetServerAddr returns the server bind address.
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
