package parser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/miradorstack/mirador-logscope/internal/patterns"
)

func TestParseLinesCountsOutcomes(t *testing.T) {
	p, _ := newParser(t)
	lines := []string{
		commonLine,
		"",
		"   ",
		"garbage line",
		`10.0.0.2 - - [10/Oct/2023:13:56:00 -0700] "GET /index.html HTTP/1.1" 200 1024`,
	}

	batch, stats, err := p.ParseLines("access.log", lines, Target{Family: "apache"})
	if err != nil {
		t.Fatalf("parse lines: %v", err)
	}
	if batch.Source != "access.log" || batch.Len() != 2 {
		t.Fatalf("expected 2 records from access.log, got %d from %s", batch.Len(), batch.Source)
	}
	if batch.Records[0].IPAddress != "10.0.0.1" || batch.Records[1].IPAddress != "10.0.0.2" {
		t.Fatalf("records must keep file order")
	}
	if stats.Total != 5 || stats.Parsed != 2 || stats.Failed != 1 || stats.Blank != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.Samples) != 1 || stats.Samples[0] != "garbage line" {
		t.Fatalf("unexpected samples %v", stats.Samples)
	}
}

func TestParseLinesBoundsSamples(t *testing.T) {
	p, registry := newParser(t)
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("bad %d", i))
	}
	batch, stats, err := p.ParseLines("x", lines, Target{Pattern: resolve(t, registry, "apache", "common")})
	if err != nil {
		t.Fatalf("parse lines: %v", err)
	}
	if batch.Len() != 0 || stats.Failed != 20 {
		t.Fatalf("expected 20 failures, got %+v", stats)
	}
	if len(stats.Samples) != maxFailureSamples {
		t.Fatalf("expected %d samples, got %d", maxFailureSamples, len(stats.Samples))
	}
}

func TestParseLinesUnknownFamily(t *testing.T) {
	p, _ := newParser(t)
	_, _, err := p.ParseLines("x", []string{commonLine}, Target{Family: "iis"})
	var unknown *patterns.UnknownPatternError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPatternError, got %v", err)
	}
}

func TestDetectVariant(t *testing.T) {
	p, _ := newParser(t)
	lines := []string{
		commonLine,
		commonLine,
		"",
		commonLine,
		"noise",
	}
	pattern, err := p.DetectVariant(lines, "apache")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if pattern.Variant != "common" {
		t.Fatalf("expected common, got %s", pattern.Variant)
	}

	if _, err := p.DetectVariant([]string{"noise", "more noise", commonLine}, "apache"); !errors.Is(err, ErrFormatUnknown) {
		t.Fatalf("expected ErrFormatUnknown, got %v", err)
	}
	if _, err := p.DetectVariant(nil, "apache"); !errors.Is(err, ErrFormatUnknown) {
		t.Fatalf("expected ErrFormatUnknown for empty input, got %v", err)
	}
}
