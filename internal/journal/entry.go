// Package journal provides the journald collaborator for the livedata
// collector: the log entry model and a tailing reader over sdjournal.
package journal

import (
	"strconv"
	"time"
)

// Well-known journal fields promoted to dedicated database columns.
// Everything else lands in the JSON overflow blob.
const (
	FieldMessage     = "MESSAGE"
	FieldPriority    = "PRIORITY"
	FieldHostname    = "_HOSTNAME"
	FieldSystemdUnit = "_SYSTEMD_UNIT"
	FieldPID         = "_PID"
	FieldComm        = "_COMM"
)

var promotedFields = map[string]bool{
	FieldMessage:     true,
	FieldPriority:    true,
	FieldHostname:    true,
	FieldSystemdUnit: true,
	FieldPID:         true,
	FieldComm:        true,
}

// Entry is one parsed journal entry: an event timestamp plus the journal's
// arbitrary field set. Entries are immutable once created.
type Entry struct {
	Timestamp time.Time
	Fields    map[string]string
}

// NewEntry creates an Entry. The timestamp is normalized to UTC.
func NewEntry(ts time.Time, fields map[string]string) Entry {
	return Entry{Timestamp: ts.UTC(), Fields: fields}
}

// MinuteKey returns the entry timestamp truncated to the minute. It is the
// aggregation bucket key stored alongside each row.
func (e Entry) MinuteKey() time.Time {
	return e.Timestamp.Truncate(time.Minute)
}

// Field returns the value of a journal field, or "" when absent.
func (e Entry) Field(name string) string {
	return e.Fields[name]
}

// Message returns the MESSAGE field.
func (e Entry) Message() string { return e.Fields[FieldMessage] }

// Hostname returns the _HOSTNAME field.
func (e Entry) Hostname() string { return e.Fields[FieldHostname] }

// Unit returns the _SYSTEMD_UNIT field.
func (e Entry) Unit() string { return e.Fields[FieldSystemdUnit] }

// Comm returns the _COMM field.
func (e Entry) Comm() string { return e.Fields[FieldComm] }

// PID returns the _PID field.
func (e Entry) PID() string { return e.Fields[FieldPID] }

// Priority returns the syslog priority (0-7), or -1 when absent or
// unparseable.
func (e Entry) Priority() int {
	v, ok := e.Fields[FieldPriority]
	if !ok {
		return -1
	}
	p, err := strconv.Atoi(v)
	if err != nil || p < 0 || p > 7 {
		return -1
	}
	return p
}

// Overflow returns the fields that are not promoted to dedicated columns.
// The result is JSON-encoded by the write path.
func (e Entry) Overflow() map[string]string {
	extra := make(map[string]string)
	for k, v := range e.Fields {
		if !promotedFields[k] {
			extra[k] = v
		}
	}
	return extra
}

// PriorityLabel returns the human-readable name of a syslog priority.
func PriorityLabel(p int) string {
	switch p {
	case 0:
		return "Emergency"
	case 1:
		return "Alert"
	case 2:
		return "Critical"
	case 3:
		return "Error"
	case 4:
		return "Warning"
	case 5:
		return "Notice"
	case 6:
		return "Informational"
	case 7:
		return "Debug"
	default:
		return "Unknown"
	}
}
