// Package config handles configuration loading and validation for the
// livedata collector.
//
// Configuration is resolved from three sources, lowest priority first:
// built-in defaults, a YAML config file, and LIVEDATA_* environment
// variables. CLI flags in cmd/livedatad override all of them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Cleanup interval bounds in minutes. Misconfigured values are clamped
// into this range rather than rejected.
const (
	MinCleanupIntervalMin = 5
	MaxCleanupIntervalMin = 15
)

// Config represents the complete collector configuration.
type Config struct {
	// DataDir is the directory holding the database file and exports.
	DataDir string `yaml:"data_dir"`

	// Listen is the web server bind address.
	Listen string `yaml:"listen"`

	// LogLevel is the logging level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogJSON selects JSON log output instead of text.
	LogJSON bool `yaml:"log_json"`

	// ProcessIntervalSec is the process sampling interval in seconds.
	ProcessIntervalSec int `yaml:"process_interval_sec"`

	// Retention defines the data retention policy.
	Retention RetentionConfig `yaml:"retention"`
}

// RetentionConfig defines per-kind retention limits and the cleanup cadence.
type RetentionConfig struct {
	// LogDays is the number of days to retain journal log rows.
	LogDays int `yaml:"log_days"`

	// LogMaxSizeGB is the on-disk size share allowed for log data.
	LogMaxSizeGB float64 `yaml:"log_max_size_gb"`

	// ProcessDays is the number of days to retain process metric rows.
	ProcessDays int `yaml:"process_days"`

	// ProcessMaxSizeGB is the on-disk size share allowed for process data.
	ProcessMaxSizeGB float64 `yaml:"process_max_size_gb"`

	// CleanupIntervalMin is the cleanup cadence in minutes, clamped to
	// the [MinCleanupIntervalMin, MaxCleanupIntervalMin] range.
	CleanupIntervalMin int `yaml:"cleanup_interval_min"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return &Config{
		DataDir:            filepath.Join(home, ".livedata"),
		Listen:             "127.0.0.1:8900",
		LogLevel:           "info",
		ProcessIntervalSec: 5,
		Retention: RetentionConfig{
			LogDays:            30,
			LogMaxSizeGB:       1.0,
			ProcessDays:        7,
			ProcessMaxSizeGB:   0.5,
			CleanupIntervalMin: 10,
		},
	}
}

// Load loads configuration from a YAML file, applying defaults and
// environment overrides. A missing file is not an error; defaults plus
// environment are used instead.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg.ApplyEnv()
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv applies LIVEDATA_* environment variable overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LIVEDATA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LIVEDATA_LOG_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Retention.LogDays = days
		}
	}
	if v := os.Getenv("LIVEDATA_LOG_MAX_SIZE_GB"); v != "" {
		if size, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retention.LogMaxSizeGB = size
		}
	}
	if v := os.Getenv("LIVEDATA_PROCESS_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Retention.ProcessDays = days
		}
	}
	if v := os.Getenv("LIVEDATA_PROCESS_MAX_SIZE_GB"); v != "" {
		if size, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retention.ProcessMaxSizeGB = size
		}
	}
	if v := os.Getenv("LIVEDATA_RETENTION_CLEANUP_INTERVAL"); v != "" {
		if interval, err := strconv.Atoi(v); err == nil {
			c.Retention.CleanupIntervalMin = interval
		}
	}
}

// Normalize clamps values that are tolerated but adjusted rather than
// rejected. Retention engine code assumes this has run.
func (c *Config) Normalize() {
	if c.Retention.CleanupIntervalMin < MinCleanupIntervalMin {
		c.Retention.CleanupIntervalMin = MinCleanupIntervalMin
	}
	if c.Retention.CleanupIntervalMin > MaxCleanupIntervalMin {
		c.Retention.CleanupIntervalMin = MaxCleanupIntervalMin
	}
}

// DatabasePath returns the path of the DuckDB database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "livedata.duckdb")
}

// CleanupInterval returns the cleanup cadence as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Retention.CleanupIntervalMin) * time.Minute
}

// LogMaxBytes returns the log size limit in bytes.
func (c *RetentionConfig) LogMaxBytes() int64 {
	return int64(c.LogMaxSizeGB * 1024 * 1024 * 1024)
}

// ProcessMaxBytes returns the process metric size limit in bytes.
func (c *RetentionConfig) ProcessMaxBytes() int64 {
	return int64(c.ProcessMaxSizeGB * 1024 * 1024 * 1024)
}

// WriteDefault writes a default config file at path, creating parent
// directories. Existing files are left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	return nil
}
