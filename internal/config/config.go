// Package config provides configuration loading for the authsource engine.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file path
	Path string `yaml:"path"`
}

// SweepConfig tunes the decoration sweep.
type SweepConfig struct {
	// BatchSize caps decoration rewrites per transaction
	BatchSize int `yaml:"batch_size"`
	// MaxRetries bounds per-batch retries on transient failures
	MaxRetries uint64 `yaml:"max_retries"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "authsource.db",
		},
		Sweep: SweepConfig{
			BatchSize:  500,
			MaxRetries: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep.batch_size must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
