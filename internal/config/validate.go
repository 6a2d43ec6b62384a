package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors. Zero or negative retention
// values are rejected here so the retention engine can assume valid positive
// policy values.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if c.ProcessIntervalSec <= 0 {
		errs = append(errs, errors.New("process_interval_sec must be positive"))
	}

	if err := c.Retention.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.LogDays <= 0 {
		errs = append(errs, errors.New("log_days must be positive"))
	}

	if c.LogMaxSizeGB <= 0 {
		errs = append(errs, errors.New("log_max_size_gb must be positive"))
	}

	if c.ProcessDays <= 0 {
		errs = append(errs, errors.New("process_days must be positive"))
	}

	if c.ProcessMaxSizeGB <= 0 {
		errs = append(errs, errors.New("process_max_size_gb must be positive"))
	}

	if c.CleanupIntervalMin < MinCleanupIntervalMin || c.CleanupIntervalMin > MaxCleanupIntervalMin {
		errs = append(errs, fmt.Errorf("cleanup_interval_min must be between %d and %d",
			MinCleanupIntervalMin, MaxCleanupIntervalMin))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
