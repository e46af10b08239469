// Package config loads the meshlogd configuration from YAML, applying
// defaults for anything a file does not set. CLI flags override the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	// Listen is the HTTP listen address for the query API.
	Listen string `yaml:"listen"`

	// LogRoot is the root directory of the event store.
	LogRoot string `yaml:"log_root"`

	// Label scopes this daemon's writer. Empty derives the writer default.
	Label string `yaml:"label"`

	// Transport selects the packet source: "sim" or "none" (query-only).
	Transport string `yaml:"transport"`

	// UseUTC selects the process-wide clock for bucketing and timestamps.
	UseUTC bool `yaml:"use_utc"`

	// SnapshotEveryMin is the periodic snapshot cadence in minutes.
	SnapshotEveryMin int `yaml:"snapshot_every_min"`

	Logging LoggingConfig `yaml:"logging"`
	Query   QueryConfig   `yaml:"query"`
	Sim     SimConfig     `yaml:"sim"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches log output to JSON.
	JSON bool `yaml:"json"`
}

// QueryConfig configures the HTTP query surface.
type QueryConfig struct {
	// DefaultLabel is offered to clients that list labels.
	DefaultLabel string `yaml:"default_label"`

	// SQLEnabled exposes the ad-hoc DuckDB endpoint.
	SQLEnabled bool `yaml:"sql_enabled"`
}

// SimConfig configures the synthetic transport.
type SimConfig struct {
	NodeCount   int `yaml:"node_count"`
	IntervalSec int `yaml:"interval_sec"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:           "0.0.0.0:8080",
		LogRoot:          "./meshlog_data",
		Transport:        "sim",
		UseUTC:           true,
		SnapshotEveryMin: 30,
		Logging: LoggingConfig{
			Level: "info",
		},
		Sim: SimConfig{
			NodeCount:   5,
			IntervalSec: 2,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is an
// error the caller may choose to treat as "use defaults".
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address required")
	}
	if c.LogRoot == "" {
		return fmt.Errorf("log_root required")
	}
	switch c.Transport {
	case "sim", "none":
	default:
		return fmt.Errorf("unknown transport %q (want sim or none)", c.Transport)
	}
	if c.SnapshotEveryMin < 0 {
		return fmt.Errorf("snapshot_every_min must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}
