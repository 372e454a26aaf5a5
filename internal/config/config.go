// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the analytics service configuration.
type Config struct {
	// Transport
	HTTPPort         int `env:"HTTP_PORT" envDefault:"8000"`
	RequestTimeoutMS int `env:"REQUEST_TIMEOUT_MS" envDefault:"5000"`

	// Storage: postgres:// selects Postgres, anything else is a SQLite path
	DatabaseURL string `env:"DATABASE_URL" envDefault:"analytics.db"`

	// Coordinator
	BufferCapacity    int `env:"BUFFER_CAPACITY" envDefault:"100000"`
	RefreshIntervalMS int `env:"REFRESH_INTERVAL_MS" envDefault:"500"`
	FlushIntervalSec  int `env:"FLUSH_INTERVAL_SEC" envDefault:"10"`
	FlushBatchSize    int `env:"FLUSH_BATCH_SIZE" envDefault:"100"`
	ErrorBackoffSec   int `env:"ERROR_BACKOFF_SEC" envDefault:"5"`
	ZScoreWindow      int `env:"ZSCORE_WINDOW" envDefault:"20"`
	PairWindow        int `env:"PAIR_WINDOW" envDefault:"300"`

	// Alerts
	AlertCooldownSec int `env:"ALERT_COOLDOWN_SEC" envDefault:"60"`
	AlertHistorySize int `env:"ALERT_HISTORY_SIZE" envDefault:"100"`

	// Broadcast
	BroadcastIntervalMS int `env:"BROADCAST_INTERVAL_MS" envDefault:"1000"`
	BroadcastQueueSize  int `env:"BROADCAST_QUEUE_SIZE" envDefault:"256"`

	// Redis (optional)
	RedisURL      string `env:"REDIS_URL"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	StreamKey     string `env:"STREAM_KEY" envDefault:"ticks"`
	ConsumerGroup string `env:"CONSUMER_GROUP" envDefault:"analytics"`
	CacheTTLSec   int    `env:"CACHE_TTL_SEC" envDefault:"300"`

	// Kafka (optional)
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"ticks"`
	KafkaGroup   string   `env:"KAFKA_GROUP" envDefault:"analytics"`

	// Observability
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	PrometheusPort int    `env:"PROMETHEUS_PORT" envDefault:"9091"`

	// Computed durations (not from env)
	RequestTimeout    time.Duration `env:"-"`
	RefreshInterval   time.Duration `env:"-"`
	FlushInterval     time.Duration `env:"-"`
	ErrorBackoff      time.Duration `env:"-"`
	AlertCooldown     time.Duration `env:"-"`
	BroadcastInterval time.Duration `env:"-"`
	CacheTTL          time.Duration `env:"-"`
}

// LoadFromEnv loads .env files (when present) and then the environment.
// Variables already set in the environment win over .env entries.
func LoadFromEnv(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	brokers := cfg.KafkaBrokers[:0]
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.KafkaBrokers = brokers

	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	cfg.RefreshInterval = time.Duration(cfg.RefreshIntervalMS) * time.Millisecond
	cfg.FlushInterval = time.Duration(cfg.FlushIntervalSec) * time.Second
	cfg.ErrorBackoff = time.Duration(cfg.ErrorBackoffSec) * time.Second
	cfg.AlertCooldown = time.Duration(cfg.AlertCooldownSec) * time.Second
	cfg.BroadcastInterval = time.Duration(cfg.BroadcastIntervalMS) * time.Millisecond
	cfg.CacheTTL = time.Duration(cfg.CacheTTLSec) * time.Second

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for name, port := range map[string]int{"HTTP_PORT": c.HTTPPort, "PROMETHEUS_PORT": c.PrometheusPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.HTTPPort == c.PrometheusPort {
		return fmt.Errorf("HTTP_PORT and PROMETHEUS_PORT must differ")
	}

	if c.LogLevel != "debug" && c.LogLevel != "info" && c.LogLevel != "warn" && c.LogLevel != "error" {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	positive := []struct {
		name  string
		value int
	}{
		{"BUFFER_CAPACITY", c.BufferCapacity},
		{"FLUSH_BATCH_SIZE", c.FlushBatchSize},
		{"ZSCORE_WINDOW", c.ZScoreWindow},
		{"ALERT_HISTORY_SIZE", c.AlertHistorySize},
		{"BROADCAST_QUEUE_SIZE", c.BroadcastQueueSize},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	if c.PairWindow < 10 {
		return fmt.Errorf("PAIR_WINDOW must be at least 10, got %d", c.PairWindow)
	}
	if c.RefreshInterval < 10*time.Millisecond {
		return fmt.Errorf("refresh interval must be at least 10ms")
	}
	if c.FlushInterval < time.Second {
		return fmt.Errorf("flush interval must be at least 1 second")
	}
	if c.ErrorBackoff < 0 || c.AlertCooldown < 0 {
		return fmt.Errorf("back-off and cooldown must not be negative")
	}
	if c.BroadcastInterval < 10*time.Millisecond {
		return fmt.Errorf("broadcast interval must be at least 10ms")
	}
	if c.RequestTimeout < time.Millisecond {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.RedisURL != "" && c.CacheTTL < time.Second {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
