package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layout aliases accepted by ParseTimestamp besides Go reference layouts.
const (
	LayoutRFC3339  = "rfc3339"
	LayoutUnix     = "unix"
	LayoutUnixMill = "unix_ms"
)

// ParseTimestamp tries each layout in order and returns the first success in UTC.
// Layouts without a zone are interpreted in loc (UTC when nil).
func ParseTimestamp(value string, layouts []string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := parseOne(value, layout, loc)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no layouts configured")
	}
	return time.Time{}, fmt.Errorf("parse time %q: %w", value, lastErr)
}

func parseOne(value, layout string, loc *time.Location) (time.Time, error) {
	switch layout {
	case LayoutRFC3339:
		return time.Parse(time.RFC3339Nano, value)
	case LayoutUnix:
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return time.Time{}, err
		}
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*1e9)), nil
	case LayoutUnixMill:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms), nil
	default:
		return time.ParseInLocation(layout, value, loc)
	}
}

// TruncateTo floors t to a multiple of d since the Unix epoch.
func TruncateTo(t time.Time, d time.Duration) time.Time {
	if d <= 0 {
		return t
	}
	return t.UTC().Truncate(d)
}
