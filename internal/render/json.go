package render

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// JSON renders a run as a stable snake_case document. Absent statistics
// encode as null.
type JSON struct {
	Indent bool
}

func (r *JSON) Render(w io.Writer, report models.RunReport) error {
	enc := json.NewEncoder(w)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(Document(report))
}

type RunDocument struct {
	RunID         string            `json:"run_id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	AlertsEmitted int               `json:"alerts_emitted"`
	Files         []FileDocument    `json:"files"`
	Skipped       []SkippedDocument `json:"skipped"`
}

type SkippedDocument struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

type FileDocument struct {
	File        string              `json:"file"`
	Pattern     string              `json:"pattern"`
	DurationMS  int64               `json:"duration_ms"`
	Parse       ParseDocument       `json:"parse"`
	Metrics     map[string]*float64 `json:"metrics"`
	StatusCodes map[string]int      `json:"status_codes"`
	Endpoints   []EndpointDocument  `json:"endpoints"`
	Issues      []IssueDocument     `json:"issues"`
	Traffic     TrafficDocument     `json:"traffic"`
	Threats     []ThreatDocument    `json:"threat_sources"`
	Findings    []FindingDocument   `json:"findings"`
	Anomalies   []AnomalyDocument   `json:"anomalies"`
	Alerts      []AlertDocument     `json:"alerts"`
	Warnings    []string            `json:"warnings"`
}

type ParseDocument struct {
	Total   int      `json:"total"`
	Parsed  int      `json:"parsed"`
	Failed  int      `json:"failed"`
	Blank   int      `json:"blank"`
	Samples []string `json:"samples"`
}

type EndpointDocument struct {
	Path      string   `json:"path"`
	Count     int      `json:"count"`
	Errors    int      `json:"errors"`
	ErrorRate float64  `json:"error_rate"`
	Mean      *float64 `json:"mean"`
	Median    *float64 `json:"median"`
	P95       *float64 `json:"p95"`
	Max       *float64 `json:"max"`
	Slow      bool     `json:"slow"`
}

type IssueDocument struct {
	Type            string   `json:"type"`
	Severity        string   `json:"severity"`
	Endpoint        string   `json:"endpoint,omitempty"`
	Description     string   `json:"description"`
	Value           float64  `json:"value"`
	Threshold       float64  `json:"threshold"`
	Recommendations []string `json:"recommendations"`
}

type TrafficDocument struct {
	IntervalSeconds float64          `json:"interval_seconds"`
	Buckets         []BucketDocument `json:"buckets"`
	Peaks           []int            `json:"peaks"`
	Sparse          bool             `json:"sparse,omitempty"`
}

type BucketDocument struct {
	Start     time.Time `json:"start"`
	Requests  int       `json:"requests"`
	Errors    int       `json:"errors"`
	ErrorRate float64   `json:"error_rate"`
}

type ThreatDocument struct {
	Source     string         `json:"source"`
	Score      float64        `json:"score"`
	Level      string         `json:"level"`
	Categories map[string]int `json:"categories"`
}

type FindingDocument struct {
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Signature   string    `json:"signature,omitempty"`
	Severity    float64   `json:"severity"`
	RecordIndex int       `json:"record_index"`
	Timestamp   time.Time `json:"timestamp"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Description string    `json:"description"`
}

type AnomalyDocument struct {
	Metric    string    `json:"metric"`
	Source    string    `json:"source"`
	Method    string    `json:"method"`
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Observed  float64   `json:"observed"`
	Baseline  float64   `json:"baseline"`
	Score     float64   `json:"score"`
	Severity  string    `json:"severity"`
}

type AlertDocument struct {
	ID              string    `json:"id"`
	Outcome         string    `json:"outcome"`
	Reason          string    `json:"reason"`
	Key             string    `json:"key"`
	WindowID        string    `json:"window_id,omitempty"`
	Events          int       `json:"events"`
	Severity        string    `json:"severity"`
	DecidedAt       time.Time `json:"decided_at"`
	Recommendations []string  `json:"recommendations"`
}

// Document converts a run report into its JSON shape.
func Document(report models.RunReport) RunDocument {
	doc := RunDocument{
		RunID:         report.RunID,
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
		AlertsEmitted: len(report.Emitted()),
		Files:         make([]FileDocument, 0, len(report.Files)),
		Skipped:       make([]SkippedDocument, 0, len(report.Skipped)),
	}
	for _, f := range report.Files {
		doc.Files = append(doc.Files, fileDocument(f))
	}
	for _, s := range report.Skipped {
		doc.Skipped = append(doc.Skipped, SkippedDocument{File: s.File, Reason: s.Reason})
	}
	return doc
}

func fileDocument(f models.FileReport) FileDocument {
	doc := FileDocument{
		File:       f.File,
		Pattern:    f.Pattern,
		DurationMS: f.Duration.Milliseconds(),
		Parse: ParseDocument{
			Total:   f.Parse.Total,
			Parsed:  f.Parse.Parsed,
			Failed:  f.Parse.Failed,
			Blank:   f.Parse.Blank,
			Samples: nonNil(f.Parse.Samples),
		},
		Metrics:     make(map[string]*float64),
		StatusCodes: make(map[string]int, len(f.Metrics.StatusCodes)),
		Endpoints:   make([]EndpointDocument, 0, len(f.Metrics.Endpoints)),
		Issues:      make([]IssueDocument, 0, len(f.Metrics.Issues)),
		Threats:     make([]ThreatDocument, 0, len(f.Security.Sources)),
		Findings:    make([]FindingDocument, 0, len(f.Security.Findings)),
		Anomalies:   make([]AnomalyDocument, 0, len(f.Anomalies)),
		Alerts:      make([]AlertDocument, 0, len(f.Decisions)),
		Warnings:    nonNil(f.Warnings),
		Traffic: TrafficDocument{
			IntervalSeconds: f.Traffic.Interval.Seconds(),
			Buckets:         make([]BucketDocument, 0, len(f.Traffic.Buckets)),
			Peaks:           append(make([]int, 0, len(f.Traffic.Peaks)), f.Traffic.Peaks...),
			Sparse:          f.Traffic.Sparse,
		},
	}

	for _, name := range models.MetricNames() {
		v, err := f.Metrics.Lookup(name)
		if err != nil {
			doc.Metrics[name] = nil
			continue
		}
		doc.Metrics[name] = &v
	}
	for code, n := range f.Metrics.StatusCodes {
		doc.StatusCodes[strconv.Itoa(code)] = n
	}
	for _, ep := range f.Metrics.Endpoints {
		doc.Endpoints = append(doc.Endpoints, EndpointDocument{
			Path:      ep.Path,
			Count:     ep.Count,
			Errors:    ep.Errors,
			ErrorRate: ep.ErrorRate,
			Mean:      stat(ep.Mean),
			Median:    stat(ep.Median),
			P95:       stat(ep.P95),
			Max:       stat(ep.Max),
			Slow:      ep.Slow,
		})
	}
	for _, is := range f.Metrics.Issues {
		doc.Issues = append(doc.Issues, IssueDocument{
			Type:            string(is.Type),
			Severity:        string(is.Severity),
			Endpoint:        is.Endpoint,
			Description:     is.Description,
			Value:           is.Value,
			Threshold:       is.Threshold,
			Recommendations: nonNil(is.Recommendations),
		})
	}
	for _, b := range f.Traffic.Buckets {
		doc.Traffic.Buckets = append(doc.Traffic.Buckets, BucketDocument{Start: b.Start, Requests: b.Requests, Errors: b.Errors, ErrorRate: b.ErrorRate})
	}
	for _, s := range f.Security.Sources {
		cats := make(map[string]int, len(s.Categories))
		for c, n := range s.Categories {
			cats[string(c)] = n
		}
		doc.Threats = append(doc.Threats, ThreatDocument{Source: s.Source, Score: s.Score, Level: string(s.Level), Categories: cats})
	}
	for _, fd := range f.Security.Findings {
		doc.Findings = append(doc.Findings, FindingDocument{
			Source:      fd.Source,
			Category:    string(fd.Category),
			Signature:   fd.Signature,
			Severity:    fd.Severity,
			RecordIndex: fd.RecordIndex,
			Timestamp:   fd.Timestamp,
			Endpoint:    fd.Endpoint,
			Description: fd.Description,
		})
	}
	for _, ev := range f.Anomalies {
		doc.Anomalies = append(doc.Anomalies, AnomalyDocument{
			Metric:    ev.Metric,
			Source:    ev.Source,
			Method:    ev.Method,
			Index:     ev.Index,
			Timestamp: ev.Timestamp,
			Observed:  ev.Observed,
			Baseline:  ev.Baseline,
			Score:     ev.Score,
			Severity:  string(ev.Severity),
		})
	}
	for _, d := range f.Decisions {
		doc.Alerts = append(doc.Alerts, AlertDocument{
			ID:              d.ID,
			Outcome:         string(d.Outcome),
			Reason:          d.Reason,
			Key:             d.Key.String(),
			WindowID:        d.WindowID,
			Events:          len(d.Events),
			Severity:        string(d.MaxSeverity()),
			DecidedAt:       d.DecidedAt,
			Recommendations: nonNil(d.Recommendations),
		})
	}
	return doc
}

func stat(s models.Stat) *float64 {
	if !s.Present {
		return nil
	}
	v := s.Value
	return &v
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
