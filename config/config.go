// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the analytics pipeline.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ClientConfig holds project and endpoint settings.
type ClientConfig struct {
	// Token is the project token attached to every outgoing record.
	Token string `yaml:"token"`

	Host     string `yaml:"host"`
	Protocol string `yaml:"protocol"` // https, http
	BasePath string `yaml:"base_path"`

	// Secret enables basic-auth with the project API secret.
	Secret string `yaml:"secret"`

	// Geolocate asks the endpoint to derive geo properties from the caller IP.
	Geolocate bool `yaml:"geolocate"`

	// Verbose requests structured JSON responses from the endpoint.
	Verbose bool `yaml:"verbose"`

	// Test bypasses the network entirely; every batch is accepted locally.
	Test bool `yaml:"test"`
}

// DeliveryConfig holds batching, scheduling and retry settings.
type DeliveryConfig struct {
	// BatchMaxSize is the item cap per delivery attempt. The ingestion API
	// accepts at most 50 records per request.
	BatchMaxSize int `yaml:"batch_max_size"`

	// FlushInterval is the timer-driven flush period.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushThreshold triggers an immediate flush once the queue reaches this
	// length. Zero means "same as batch_max_size".
	FlushThreshold int `yaml:"flush_threshold"`

	// RequestTimeout bounds a single delivery attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Retry backoff settings.
	RetryCeiling      int           `yaml:"retry_ceiling"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffCap        time.Duration `yaml:"backoff_cap"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	// Circuit breaker settings for the transport.
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`

	// ShutdownTimeout bounds the final flush on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds durable queue storage settings.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	BadgerDir string `yaml:"badger_dir"`

	// SyncWrites fsyncs every append. Disabling trades the crash-durability
	// guarantee for write throughput.
	SyncWrites bool `yaml:"sync_writes"`

	// CompressMin is the payload size above which stored values are
	// compressed. Zero disables compression.
	CompressMin int `yaml:"compress_min"`

	// StateFile is the session state mirror (distinct id, super properties).
	// Empty derives it from badger_dir.
	StateFile string `yaml:"state_file"`
}

// RateLimitConfig bounds the event admission rate. Disabled by default.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"` // items per second
	Burst   int     `yaml:"burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds OpenTelemetry configuration.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Host:     "api.mixpanel.com",
			Protocol: "https",
		},
		Delivery: DeliveryConfig{
			BatchMaxSize:      50,
			FlushInterval:     10 * time.Second,
			FlushThreshold:    0, // same as batch_max_size
			RequestTimeout:    10 * time.Second,
			RetryCeiling:      5,
			BackoffBase:       time.Second,
			BackoffCap:        10 * time.Second,
			BackoffMultiplier: 2.0,
			BreakerThreshold:  5,
			BreakerReset:      60 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Storage: StorageConfig{
			Type:        "badger",
			BadgerDir:   "/tmp/fluxtrack/data",
			SyncWrites:  true,
			CompressMin: 1024,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
			Rate:    100,
			Burst:   200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			OTLPEndpoint:   "localhost:4317",
			ServiceName:    "fluxtrack",
			ServiceVersion: "1.0.0",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Client.Token == "" && !c.Client.Test {
		return fmt.Errorf("client.token cannot be empty")
	}
	if c.Client.Host == "" {
		return fmt.Errorf("client.host cannot be empty")
	}
	if c.Client.Protocol != "https" && c.Client.Protocol != "http" {
		return fmt.Errorf("client.protocol must be one of: https, http")
	}

	if c.Delivery.BatchMaxSize < 1 || c.Delivery.BatchMaxSize > 50 {
		return fmt.Errorf("delivery.batch_max_size must be between 1 and 50")
	}
	if c.Delivery.FlushInterval < 100*time.Millisecond {
		return fmt.Errorf("delivery.flush_interval must be at least 100ms")
	}
	if c.Delivery.FlushThreshold < 0 {
		return fmt.Errorf("delivery.flush_threshold cannot be negative")
	}
	if c.Delivery.RequestTimeout < time.Second {
		return fmt.Errorf("delivery.request_timeout must be at least 1 second")
	}
	if c.Delivery.RetryCeiling < 0 {
		return fmt.Errorf("delivery.retry_ceiling cannot be negative")
	}
	if c.Delivery.BackoffBase <= 0 {
		return fmt.Errorf("delivery.backoff_base must be positive")
	}
	if c.Delivery.BackoffCap < c.Delivery.BackoffBase {
		return fmt.Errorf("delivery.backoff_cap must be at least backoff_base")
	}
	if c.Delivery.BackoffMultiplier < 1.0 {
		return fmt.Errorf("delivery.backoff_multiplier must be at least 1.0")
	}
	if c.Delivery.ShutdownTimeout < time.Second {
		return fmt.Errorf("delivery.shutdown_timeout must be at least 1 second")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate_limit.rate must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit.burst must be at least 1")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Metrics.Enabled {
		if c.Metrics.OTLPEndpoint == "" {
			return fmt.Errorf("metrics.otlp_endpoint cannot be empty when metrics enabled")
		}
		if c.Metrics.ServiceName == "" {
			return fmt.Errorf("metrics.service_name cannot be empty when metrics enabled")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
