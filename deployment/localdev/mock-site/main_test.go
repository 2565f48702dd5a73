package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLogRequestsWritesCombinedWithTime(t *testing.T) {
	var buf bytes.Buffer
	handler := logRequests(newAccessLog(&buf), routes())

	req := httptest.NewRequest(http.MethodGet, "/healthz?check=1", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("User-Agent", "ELB-HealthChecker/2.0")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, `192.0.2.10 - - [`) {
		t.Fatalf("unexpected prefix: %s", line)
	}
	if !strings.Contains(line, `"GET /healthz?check=1 HTTP/1.1" 200 2 "-" "ELB-HealthChecker/2.0" `) {
		t.Fatalf("unexpected request section: %s", line)
	}
}

func TestFormatLineUnauthorized(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	start := time.Date(2023, 10, 10, 13, 55, 36, 0, time.UTC)

	got := formatLine(req, http.StatusUnauthorized, 0, start, 1500*time.Millisecond)
	want := `198.51.100.7 - - [10/Oct/2023:13:55:36 +0000] "POST /login HTTP/1.1" 401 - "-" "-" 1.500`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}
}
