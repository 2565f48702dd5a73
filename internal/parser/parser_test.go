package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
)

const commonLine = `10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET /wp-admin HTTP/1.1" 404 210`

func newParser(t *testing.T) (*Parser, *patterns.Registry) {
	t.Helper()
	set, err := patterns.Build(patterns.DefaultDefinitions())
	if err != nil {
		t.Fatalf("build patterns: %v", err)
	}
	registry := patterns.NewRegistry(set)
	return New(registry), registry
}

func resolve(t *testing.T, registry *patterns.Registry, family, variant string) *patterns.LogPattern {
	t.Helper()
	p, err := registry.Resolve(family, variant)
	if err != nil {
		t.Fatalf("resolve %s/%s: %v", family, variant, err)
	}
	return p
}

func TestParseApacheCommon(t *testing.T) {
	p, registry := newParser(t)
	rec, err := p.Parse(commonLine+"\n", resolve(t, registry, "apache", "common"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.IPAddress != "10.0.0.1" {
		t.Fatalf("unexpected ip %q", rec.IPAddress)
	}
	if rec.Status != 404 || rec.BytesSent != 210 {
		t.Fatalf("unexpected status/bytes %d/%d", rec.Status, rec.BytesSent)
	}
	if rec.Method != "GET" || rec.Endpoint != "/wp-admin" || rec.Protocol != "HTTP/1.1" {
		t.Fatalf("unexpected request fields %+v", rec)
	}
	want := time.Date(2023, 10, 10, 20, 55, 36, 0, time.UTC)
	if !rec.Timestamp.Equal(want) || rec.Timestamp.Location() != time.UTC {
		t.Fatalf("expected %v UTC, got %v", want, rec.Timestamp)
	}
	if rec.HasResponseTime {
		t.Fatalf("common log lines carry no response time")
	}
	if rec.Kind != models.KindAccess || rec.Pattern != "apache/common" || rec.Raw != commonLine {
		t.Fatalf("unexpected metadata %+v", rec)
	}
}

func TestParseCombinedWithTiming(t *testing.T) {
	p, registry := newParser(t)
	line := `192.168.1.5 - alice [10/Oct/2023:13:55:36 +0000] "POST /api/login?next=/home HTTP/1.1" 200 512 "https://example.com/" "Mozilla/5.0" 0.250`
	rec, err := p.Parse(line, resolve(t, registry, "apache", "combined_with_time"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !rec.HasResponseTime || rec.ResponseTime != 0.25 {
		t.Fatalf("expected response time 0.25, got %v (%v)", rec.ResponseTime, rec.HasResponseTime)
	}
	if rec.RemoteUser != "alice" || rec.UserAgent != "Mozilla/5.0" || rec.Referer != "https://example.com/" {
		t.Fatalf("unexpected combined fields %+v", rec)
	}
	if rec.Path() != "/api/login" || rec.Query() != "next=/home" {
		t.Fatalf("unexpected path split %q %q", rec.Path(), rec.Query())
	}
}

func TestParsePlaceholders(t *testing.T) {
	p, registry := newParser(t)
	line := `10.0.0.9 - - [10/Oct/2023:13:55:36 +0000] "HEAD / HTTP/1.1" 304 - "-" "healthcheck" -`
	rec, err := p.Parse(line, resolve(t, registry, "apache", "combined_with_time"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.BytesSent != 0 {
		t.Fatalf("expected zero bytes for placeholder, got %d", rec.BytesSent)
	}
	if rec.HasResponseTime {
		t.Fatalf("placeholder response time must be absent")
	}
}

func TestParseFailures(t *testing.T) {
	p, registry := newParser(t)
	common := resolve(t, registry, "apache", "common")

	cases := map[string]string{
		"garbage":        "not a log line",
		"bad timestamp":  `10.0.0.1 - - [32/Foo/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 10`,
		"bad status":     `10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 999 10`,
		"bad bytes":      `10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 lots`,
		"trailing extra": commonLine + ` "-" "agent"`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			rec, err := p.Parse(line, common)
			var failure *ParseFailure
			if !errors.As(err, &failure) {
				t.Fatalf("expected ParseFailure, got %v", err)
			}
			if failure.Pattern != "apache/common" || failure.Line != line {
				t.Fatalf("failure lost context: %+v", failure)
			}
			if rec != (models.Record{}) {
				t.Fatalf("expected zero record on failure, got %+v", rec)
			}
		})
	}
}

func TestParseFamilyPrefersMostSpecific(t *testing.T) {
	p, _ := newParser(t)

	rec, err := p.ParseFamily(commonLine, "apache")
	if err != nil {
		t.Fatalf("parse family: %v", err)
	}
	if rec.Pattern != "apache/common" {
		t.Fatalf("expected apache/common, got %s", rec.Pattern)
	}

	timed := `10.0.0.1 - - [10/Oct/2023:13:55:36 -0700] "GET / HTTP/1.1" 200 10 "-" "curl" 1.5`
	rec, err = p.ParseFamily(timed, "apache")
	if err != nil {
		t.Fatalf("parse family: %v", err)
	}
	if rec.Pattern != "apache/combined_with_time" || rec.ResponseTime != 1.5 {
		t.Fatalf("expected timed variant, got %s %v", rec.Pattern, rec.ResponseTime)
	}

	_, err = p.ParseFamily(commonLine, "iis")
	var unknown *patterns.UnknownPatternError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownPatternError, got %v", err)
	}
}

func TestParseErrorLogs(t *testing.T) {
	p, _ := newParser(t)

	rec, err := p.ParseFamily(`[Wed Oct 11 14:32:52.123456 2023] [core:error] [pid 1234:tid 5678] [client 10.0.0.2:51234] File does not exist: /var/www/favicon.ico`, "apache")
	if err != nil {
		t.Fatalf("parse apache error: %v", err)
	}
	if rec.Kind != models.KindError || rec.Module != "core" || rec.Level != "error" || rec.PID != "1234" {
		t.Fatalf("unexpected error record %+v", rec)
	}
	if rec.IPAddress != "10.0.0.2:51234" || rec.Message != "File does not exist: /var/www/favicon.ico" {
		t.Fatalf("unexpected client/message %q %q", rec.IPAddress, rec.Message)
	}

	rec, err = p.ParseFamily(`2023/10/11 14:32:52 [error] 311#0: *7 open() "/srv/missing" failed (2: No such file or directory), client: 10.0.0.3, server: example.com`, "nginx")
	if err != nil {
		t.Fatalf("parse nginx error: %v", err)
	}
	if rec.Pattern != "nginx/error" || rec.IPAddress != "10.0.0.3" || rec.PID != "311" {
		t.Fatalf("unexpected nginx error record %+v", rec)
	}
	if rec.IsError() {
		t.Fatalf("error log records carry no HTTP status")
	}
}

func TestParseWithLocation(t *testing.T) {
	set, err := patterns.Build(patterns.DefaultDefinitions())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	loc := time.FixedZone("UTC+2", 2*60*60)
	p := New(patterns.NewRegistry(set), WithLocation(loc))

	rec, err := p.ParseFamily(`2023/10/11 14:32:52 [warn] 9#0: low disk`, "nginx")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Date(2023, 10, 11, 12, 32, 52, 0, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Fatalf("expected %v, got %v", want, rec.Timestamp)
	}
}
