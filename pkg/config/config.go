// Package config provides the unified configuration system for Spectrum.
// It defines a single Config structure covering the embedded store, cache
// freshness policy, adapter timeouts, and observability settings.
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.TTL.Metadata = 6 * time.Hour
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level service configuration.
type Config struct {
	// Store configures the embedded persistence layer
	Store StoreConfig `yaml:"store" json:"store"`

	// TTL configures cache freshness windows per class
	TTL TTLConfig `yaml:"ttl" json:"ttl"`

	// Timeouts define bounds on adapter operations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Sampling configures data sampling defaults
	Sampling SamplingConfig `yaml:"sampling" json:"sampling"`

	// Observability settings for logging and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// StoreConfig locates the embedded sqlite store and the sealing key file.
type StoreConfig struct {
	// Path is the sqlite database file holding descriptors and cache entries
	Path string `yaml:"path" json:"path"`
	// KeyPath is the credential sealing key file; generated if absent
	KeyPath string `yaml:"key_path" json:"key_path"`
}

// TTLConfig carries the two independent freshness windows. Listings churn
// faster than schemas, so discovery defaults shorter than metadata.
type TTLConfig struct {
	// Metadata applies to schema/stats extraction results
	Metadata time.Duration `yaml:"metadata" json:"metadata"`
	// Discovery applies to database and object listing results
	Discovery time.Duration `yaml:"discovery" json:"discovery"`
}

// TimeoutConfig bounds blocking adapter calls.
type TimeoutConfig struct {
	// Fetch bounds a single metadata extraction (per cache fetch)
	Fetch time.Duration `yaml:"fetch" json:"fetch"`
	// Connection bounds backend connection establishment
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Sample bounds data sampling queries
	Sample time.Duration `yaml:"sample" json:"sample"`
}

// SamplingConfig holds sampling defaults.
type SamplingConfig struct {
	// DefaultLimit is the row cap used when a caller omits one
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`
	// MaxLimit is the hard row cap for a single sample
	MaxLimit int `yaml:"max_limit" json:"max_limit"`
}

// ObservabilityConfig contains logging and metrics settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// EnableMetrics exposes the prometheus registry over HTTP at MetricsAddr
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// MetricsAddr is the listen address for the metrics endpoint
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Default returns a Config with production-ready defaults. The store lives
// under ~/.spectrum, metadata stays fresh for a day and discovery for an hour,
// matching how much each costs to recompute.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".spectrum")

	return &Config{
		Store: StoreConfig{
			Path:    filepath.Join(base, "metadata.db"),
			KeyPath: filepath.Join(base, "secret.key"),
		},
		TTL: TTLConfig{
			Metadata:  24 * time.Hour,
			Discovery: time.Hour,
		},
		Timeouts: TimeoutConfig{
			Fetch:      60 * time.Second,
			Connection: 10 * time.Second,
			Sample:     30 * time.Second,
		},
		Sampling: SamplingConfig{
			DefaultLimit: 100,
			MaxLimit:     10000,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogEncoding: "json",
			MetricsAddr: "127.0.0.1:9090",
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.KeyPath == "" {
		return fmt.Errorf("store.key_path is required")
	}
	if c.TTL.Metadata <= 0 {
		return fmt.Errorf("ttl.metadata must be positive")
	}
	if c.TTL.Discovery <= 0 {
		return fmt.Errorf("ttl.discovery must be positive")
	}
	if c.Timeouts.Fetch <= 0 {
		return fmt.Errorf("timeouts.fetch must be positive")
	}
	if c.Sampling.DefaultLimit <= 0 {
		return fmt.Errorf("sampling.default_limit must be positive")
	}
	if c.Sampling.MaxLimit < c.Sampling.DefaultLimit {
		return fmt.Errorf("sampling.max_limit must be >= sampling.default_limit")
	}
	if c.Observability.EnableMetrics && c.Observability.MetricsAddr == "" {
		return fmt.Errorf("observability.metrics_addr is required when metrics are enabled")
	}
	return nil
}
