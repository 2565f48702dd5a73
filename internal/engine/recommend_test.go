package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

func TestRuleEngineRecommend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: latency
    match:
      metric: "response_time*"
      severity: "critical"
    recommendations: ["Profile slow handlers", "Check upstream latency"]
  - id: api-errors
    match:
      metric: error_rate
      source_contains: ["api"]
    recommendations: ["Review recent deploys"]
  - id: slow-endpoint
    match:
      issue: slow_endpoint
    recommendations: ["Add caching for hot endpoints"]
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	engine, err := NewRuleEngine(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	decision := models.AlertDecision{Events: []models.AnomalyEvent{
		{Metric: "response_time", Severity: models.SeverityMedium},
		{Metric: "response_time", Severity: models.SeverityCritical},
	}}
	recs := engine.RecommendAlert(decision)
	if len(recs) != 2 || recs[0] != "Profile slow handlers" {
		t.Fatalf("unexpected alert recommendations %v", recs)
	}

	decision = models.AlertDecision{Events: []models.AnomalyEvent{{Metric: "error_rate", Source: "/var/log/web/access.log"}}}
	if recs := engine.RecommendAlert(decision); len(recs) != 0 {
		t.Fatalf("source filter should reject non-api logs, got %v", recs)
	}

	recs = engine.RecommendIssue(models.Issue{Type: models.IssueSlowEndpoint, Endpoint: "/search"})
	if len(recs) != 1 || recs[0] != "Add caching for hot endpoints" {
		t.Fatalf("unexpected issue recommendations %v", recs)
	}
	if recs := engine.RecommendIssue(models.Issue{Type: models.IssueHighErrorRate}); len(recs) != 0 {
		t.Fatalf("expected no match for high error rate, got %v", recs)
	}
}

func TestRuleEngineNoFile(t *testing.T) {
	engine, err := NewRuleEngine("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if engine != nil {
		t.Fatalf("expected nil engine when file missing")
	}
	if recs := engine.RecommendAlert(models.AlertDecision{}); recs != nil {
		t.Fatalf("nil engine should recommend nothing")
	}
}

func TestSampleRulePack(t *testing.T) {
	engine, err := NewRuleEngine(filepath.Join("..", "..", "configs", "rules.yaml"), nil)
	if err != nil {
		t.Fatalf("load sample rules: %v", err)
	}
	if engine == nil {
		t.Fatalf("expected sample rules to load")
	}

	recs := engine.RecommendIssue(models.Issue{Type: models.IssueSlowEndpoint, Severity: models.SeverityMedium, Endpoint: "/search"})
	if len(recs) != 2 || recs[0] != "Add an index or cache for expensive query endpoints" {
		t.Fatalf("unexpected slow endpoint recommendations %v", recs)
	}

	recs = engine.RecommendAlert(models.AlertDecision{Events: []models.AnomalyEvent{{Metric: "response_time", Severity: models.SeverityCritical}}})
	if len(recs) != 3 {
		t.Fatalf("expected latency and critical recommendations, got %v", recs)
	}
}
