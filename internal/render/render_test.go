package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

func sampleRun() models.RunReport {
	stamp := time.Date(2023, 10, 10, 14, 0, 0, 0, time.UTC)
	return models.RunReport{
		RunID:     "run-42",
		StartedAt: stamp,
		Files: []models.FileReport{{
			File:    "access.log",
			Pattern: "apache/combined_with_time",
			Parse:   models.ParseStats{Total: 1200, Parsed: 1198, Failed: 2, Samples: []string{"garbage"}},
			Metrics: models.MetricSet{
				TotalRecords:  1198,
				ErrorCount:    12,
				ErrorRate:     models.Of(0.01),
				StatusClasses: map[string]int{"2xx": 1186, "5xx": 12},
				StatusCodes:   map[int]int{200: 1186, 503: 12},
				ResponseTime:  models.ResponseTimeStats{Samples: 1198, Mean: models.Of(0.2), P95: models.Of(1.5)},
				Endpoints: []models.EndpointStats{
					{Path: "/search", Count: 40, Mean: models.Of(2.5), P95: models.Of(4), Slow: true, SlowReasons: []string{"mean above 1s"}},
				},
			},
			Anomalies: []models.AnomalyEvent{{Metric: "response_time", Index: 7, Observed: 5, Baseline: 0.2, Score: 4.1, Severity: models.SeverityCritical, Method: "zscore"}},
			Decisions: []models.AlertDecision{{
				ID: "a1", Outcome: models.OutcomeEmitted, Reason: models.ReasonEmitted,
				Key:             models.AlertKey{Metric: "response_time", Source: "access.log"},
				Events:          []models.AnomalyEvent{{Severity: models.SeverityCritical}},
				Recommendations: []string{"Profile slow database queries"},
			}},
			Warnings: []string{"results were not persisted"},
		}},
		Skipped: []models.SkippedFile{{File: "missing.log", Reason: "open: no such file"}},
	}
}

func TestTableRendererSummarisesRun(t *testing.T) {
	var buf bytes.Buffer
	if err := New(FormatTable).Render(&buf, sampleRun()); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Run run-42: 1 file(s), 1 skipped, 1 alert(s) emitted",
		"access.log",
		"1,200",
		"/search",
		"EMITTED response_time@access.log",
		"Profile slow database queries",
		"Warning: results were not persisted",
		"missing.log: open: no such file",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestJSONRendererEncodesAbsentStatsAsNull(t *testing.T) {
	var buf bytes.Buffer
	if err := New(FormatJSON).Render(&buf, sampleRun()); err != nil {
		t.Fatalf("render: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["run_id"] != "run-42" || doc["alerts_emitted"] != float64(1) {
		t.Fatalf("unexpected run header %v", doc)
	}
	file := doc["files"].([]any)[0].(map[string]any)
	metrics := file["metrics"].(map[string]any)
	if v, ok := metrics[models.MetricResponseTimeP99]; !ok || v != nil {
		t.Fatalf("expected null p99, got %v (present=%v)", v, ok)
	}
	if metrics[models.MetricResponseTimeP95] != 1.5 {
		t.Fatalf("expected p95 1.5, got %v", metrics[models.MetricResponseTimeP95])
	}
	if file["status_codes"].(map[string]any)["503"] != float64(12) {
		t.Fatalf("unexpected status codes %v", file["status_codes"])
	}
	alert := file["alerts"].([]any)[0].(map[string]any)
	if alert["severity"] != "critical" || alert["key"] != "response_time@access.log" {
		t.Fatalf("unexpected alert %v", alert)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("expected json, got %q %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatTable {
		t.Fatalf("expected table default, got %q %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
