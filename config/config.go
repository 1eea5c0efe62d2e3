package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketsync MarketsyncConfig `yaml:"marketsync"`
	Source     SourceConfig     `yaml:"source"`
	Stream     StreamConfig     `yaml:"stream"`
	Book       BookConfig       `yaml:"book"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type MarketsyncConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BinanceSourceConfig struct {
	WsURL          string               `yaml:"ws_url"`
	RestURL        string               `yaml:"rest_url"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Timeout        time.Duration        `yaml:"timeout"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type StreamConfig struct {
	SubscriberBuffer int             `yaml:"subscriber_buffer"`
	ThrottleInterval time.Duration   `yaml:"throttle_interval"`
	KeepAlive        time.Duration   `yaml:"ticker_keepalive"`
	PingInterval     time.Duration   `yaml:"ping_interval"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Factor   float64       `yaml:"factor"`
	Jitter   bool          `yaml:"jitter"`
}

type BookConfig struct {
	Symbols            []string      `yaml:"symbols"`
	DepthLevels        int           `yaml:"depth_levels"`
	SnapshotLimit      int           `yaml:"snapshot_limit"`
	ResyncDelay        time.Duration `yaml:"resync_delay"`
	SnapshotRatePerSec float64       `yaml:"snapshot_rate_per_sec"`
}

type LifecycleConfig struct {
	ResumeSettle time.Duration `yaml:"resume_settle"`
}

type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Address    string           `yaml:"address"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Namespace string        `yaml:"namespace"`
	Interval  time.Duration `yaml:"interval"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override CloudWatch settings from environment variables if available
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Stream: StreamConfig{
			SubscriberBuffer: 16,
			ThrottleInterval: 250 * time.Millisecond,
			KeepAlive:        30 * time.Second,
			PingInterval:     20 * time.Second,
			Reconnect: ReconnectConfig{
				MinDelay: 1500 * time.Millisecond,
				MaxDelay: 30 * time.Second,
				Factor:   2,
				Jitter:   true,
			},
		},
		Book: BookConfig{
			DepthLevels:        15,
			SnapshotLimit:      1000,
			ResyncDelay:        2 * time.Second,
			SnapshotRatePerSec: 2,
		},
		Lifecycle: LifecycleConfig{
			ResumeSettle: 500 * time.Millisecond,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Marketsync.Name == "" {
		return fmt.Errorf("marketsync.name is required")
	}

	if cfg.Marketsync.Version == "" {
		return fmt.Errorf("marketsync.version is required")
	}

	if cfg.Source.Binance.WsURL == "" {
		return fmt.Errorf("source.binance.ws_url is required")
	}

	if cfg.Source.Binance.RestURL == "" {
		return fmt.Errorf("source.binance.rest_url is required")
	}

	if cfg.Stream.SubscriberBuffer <= 0 {
		return fmt.Errorf("stream.subscriber_buffer must be greater than 0")
	}

	if cfg.Stream.ThrottleInterval < 0 {
		return fmt.Errorf("stream.throttle_interval must not be negative")
	}

	if cfg.Stream.Reconnect.MinDelay <= 0 {
		return fmt.Errorf("stream.reconnect.min_delay must be greater than 0")
	}

	if cfg.Stream.Reconnect.MaxDelay < cfg.Stream.Reconnect.MinDelay {
		return fmt.Errorf("stream.reconnect.max_delay must not be below min_delay")
	}

	if cfg.Book.DepthLevels <= 0 {
		return fmt.Errorf("book.depth_levels must be greater than 0")
	}

	if cfg.Book.SnapshotLimit <= 0 {
		return fmt.Errorf("book.snapshot_limit must be greater than 0")
	}

	if cfg.Book.ResyncDelay <= 0 {
		return fmt.Errorf("book.resync_delay must be greater than 0")
	}

	if cfg.Lifecycle.ResumeSettle < 0 {
		return fmt.Errorf("lifecycle.resume_settle must not be negative")
	}

	return nil
}
