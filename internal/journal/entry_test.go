package journal

import (
	"testing"
	"time"
)

func TestMinuteKey(t *testing.T) {
	ts := time.Date(2026, 1, 17, 14, 30, 45, 123456789, time.UTC)
	e := NewEntry(ts, nil)

	expected := time.Date(2026, 1, 17, 14, 30, 0, 0, time.UTC)
	if !e.MinuteKey().Equal(expected) {
		t.Errorf("expected %v, got %v", expected, e.MinuteKey())
	}
}

func TestTimestampNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("TEST", 3600)
	ts := time.Date(2026, 1, 17, 15, 30, 45, 0, loc)

	e := NewEntry(ts, nil)

	if e.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", e.Timestamp.Location())
	}
	if e.MinuteKey().Hour() != 14 {
		t.Errorf("expected hour 14 after UTC conversion, got %d", e.MinuteKey().Hour())
	}
}

func TestPromotedGetters(t *testing.T) {
	e := NewEntry(time.Now(), map[string]string{
		"MESSAGE":       "Test message",
		"PRIORITY":      "6",
		"_SYSTEMD_UNIT": "test.service",
		"_HOSTNAME":     "test-host",
		"_PID":          "1234",
		"_COMM":         "testd",
	})

	if e.Message() != "Test message" {
		t.Errorf("unexpected message: %q", e.Message())
	}
	if e.Priority() != 6 {
		t.Errorf("unexpected priority: %d", e.Priority())
	}
	if e.Unit() != "test.service" {
		t.Errorf("unexpected unit: %q", e.Unit())
	}
	if e.Hostname() != "test-host" {
		t.Errorf("unexpected hostname: %q", e.Hostname())
	}
	if e.PID() != "1234" {
		t.Errorf("unexpected pid: %q", e.PID())
	}
	if e.Comm() != "testd" {
		t.Errorf("unexpected comm: %q", e.Comm())
	}
}

func TestPriorityParsing(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{"valid", "3", 3},
		{"zero", "0", 0},
		{"out of range", "9", -1},
		{"garbage", "high", -1},
		{"negative", "-1", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntry(time.Now(), map[string]string{"PRIORITY": tt.value})
			if got := e.Priority(); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestPriorityAbsent(t *testing.T) {
	e := NewEntry(time.Now(), nil)
	if e.Priority() != -1 {
		t.Errorf("expected -1 for absent priority, got %d", e.Priority())
	}
}

func TestOverflowExcludesPromoted(t *testing.T) {
	e := NewEntry(time.Now(), map[string]string{
		"MESSAGE":   "hello",
		"_HOSTNAME": "host",
		"_EXE":      "/usr/bin/test",
		"_BOOT_ID":  "abc123",
	})

	extra := e.Overflow()

	if len(extra) != 2 {
		t.Fatalf("expected 2 overflow fields, got %d: %v", len(extra), extra)
	}
	if extra["_EXE"] != "/usr/bin/test" {
		t.Errorf("missing _EXE in overflow")
	}
	if _, ok := extra["MESSAGE"]; ok {
		t.Error("promoted field MESSAGE leaked into overflow")
	}
}

func TestPriorityLabel(t *testing.T) {
	if got := PriorityLabel(3); got != "Error" {
		t.Errorf("expected Error, got %q", got)
	}
	if got := PriorityLabel(42); got != "Unknown" {
		t.Errorf("expected Unknown, got %q", got)
	}
}
