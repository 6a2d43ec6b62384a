package errors

import (
	"fmt"
	"testing"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unopenable", ErrUnopenable, true},
		{"backup failed", ErrBackupFailed, true},
		{"migration failed", ErrMigrationFailed, true},
		{"wrapped fatal", fmt.Errorf("open db: %w", ErrUnopenable), true},
		{"queue full", ErrQueueFull, false},
		{"invalid config", ErrInvalidConfig, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"queue full", ErrQueueFull, true},
		{"timeout", ErrTimeout, true},
		{"wrapped queue full", fmt.Errorf("offer batch: %w", ErrQueueFull), true},
		{"migration failed", ErrMigrationFailed, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if got := Wrap(nil, "context"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}

	wrapped := Wrap(ErrInvalidQuery, "run statement")
	if !Is(wrapped, ErrInvalidQuery) {
		t.Errorf("wrapped error lost its sentinel: %v", wrapped)
	}
	if wrapped.Error() != "run statement: invalid query" {
		t.Errorf("message = %q", wrapped.Error())
	}
}
