// Package errors consolidates error definitions for the livedata collector.
//
// It provides sentinel errors for all error conditions, category checking
// helpers, and thin wrappers around the standard library errors package so
// callers only need one import.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Fatal startup errors. The process must not continue serving when one
	// of these surfaces during initialization.
	ErrUnopenable      = errors.New("database unopenable")
	ErrBackupFailed    = errors.New("database backup failed")
	ErrMigrationFailed = errors.New("schema migration failed")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidQuery  = errors.New("invalid query")

	// Recoverable runtime errors
	ErrQueueFull      = errors.New("intake queue full")
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrTimeout        = errors.New("timeout")
)

// ============================================================================
// Helper functions
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsFatal returns true if err is a startup-fatal error. Fatal errors
// propagate all the way out of initialization; there is no degraded mode.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnopenable) ||
		errors.Is(err, ErrBackupFailed) ||
		errors.Is(err, ErrMigrationFailed)
}

// IsRetryable returns true if err describes a transient condition where the
// caller should try again later rather than give up.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrTimeout)
}

// Wrap wraps an error with a message, preserving the error chain.
// Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
