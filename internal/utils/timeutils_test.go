package utils

import (
	"testing"
	"time"
)

func TestParseTimestampNormalisesToUTC(t *testing.T) {
	layouts := []string{"02/Jan/2006:15:04:05 -0700"}
	got, err := ParseTimestamp("10/Oct/2023:13:55:36 -0700", layouts, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2023, 10, 10, 20, 55, 36, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("expected %v in UTC, got %v", want, got)
	}
}

func TestParseTimestampFallsThroughLayouts(t *testing.T) {
	layouts := []string{"Mon Jan 02 15:04:05.000000 2006", "Mon Jan 02 15:04:05 2006"}
	loc := time.FixedZone("plus2", 2*3600)
	got, err := ParseTimestamp("Wed Oct 11 14:32:52 2023", layouts, loc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2023, 10, 11, 12, 32, 52, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestParseTimestampAliases(t *testing.T) {
	got, err := ParseTimestamp("1696946136", []string{LayoutUnix}, nil)
	if err != nil {
		t.Fatalf("parse unix: %v", err)
	}
	if got.Unix() != 1696946136 {
		t.Fatalf("unexpected unix time %v", got)
	}
	if _, err := ParseTimestamp("yesterday", []string{LayoutRFC3339}, nil); err == nil {
		t.Fatalf("expected error for unparsable value")
	}
	if _, err := ParseTimestamp("  ", []string{LayoutRFC3339}, nil); err == nil {
		t.Fatalf("expected error for empty value")
	}
}
