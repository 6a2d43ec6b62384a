package web

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseTime accepts "now", a relative offset like -1h / -15m / -7d / -30s,
// or an RFC 3339 timestamp.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}

	if rest, ok := strings.CutPrefix(s, "-"); ok {
		if len(rest) < 2 {
			return time.Time{}, fmt.Errorf("invalid relative time %q", s)
		}

		unit := rest[len(rest)-1]
		num, err := strconv.ParseInt(rest[:len(rest)-1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid number in relative time %q", s)
		}

		var d time.Duration
		switch unit {
		case 'd':
			d = time.Duration(num) * 24 * time.Hour
		case 'h':
			d = time.Duration(num) * time.Hour
		case 'm':
			d = time.Duration(num) * time.Minute
		case 's':
			d = time.Duration(num) * time.Second
		default:
			return time.Time{}, fmt.Errorf("invalid relative time unit %q", s)
		}
		return now.Add(-d), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: RFC 3339 or relative offset expected", s)
	}
	return t.UTC(), nil
}

// splitList turns a comma-separated filter value into trimmed non-empty
// elements.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
