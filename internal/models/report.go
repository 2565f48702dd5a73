package models

import "time"

// TrafficBucket counts requests that fall inside one fixed interval.
type TrafficBucket struct {
	Start     time.Time
	Requests  int
	Errors    int
	ErrorRate float64
}

// Traffic is the bucketed request profile of a batch.
type Traffic struct {
	Interval time.Duration
	Buckets  []TrafficBucket
	// Peaks holds indexes of buckets above the 95th percentile of request counts.
	Peaks []int
	// Sparse is set when the span was too wide for contiguous buckets and
	// empty intervals were left out.
	Sparse bool
}

// ParseStats summarises a parse pass over raw lines.
type ParseStats struct {
	Total   int
	Parsed  int
	Failed  int
	Blank   int
	Samples []string
}

// FileReport is everything the pipeline derived from one input file.
type FileReport struct {
	File      string
	Pattern   string
	Parse     ParseStats
	Metrics   MetricSet
	Traffic   Traffic
	Security  SecurityReport
	Anomalies []AnomalyEvent
	Decisions []AlertDecision
	Warnings  []string
	Duration  time.Duration
}

// SkippedFile notes a file the pipeline could not process.
type SkippedFile struct {
	File   string
	Reason string
}

// RunReport aggregates one analysis run over a set of files.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []FileReport
	Skipped    []SkippedFile
}

// Emitted returns every emitted alert decision in the run.
func (r RunReport) Emitted() []AlertDecision {
	out := make([]AlertDecision, 0)
	for _, f := range r.Files {
		for _, d := range f.Decisions {
			if d.Emitted() {
				out = append(out, d)
			}
		}
	}
	return out
}

// MetricSample is one stored point of a detector series, used to build
// historical baselines.
type MetricSample struct {
	Metric string
	Source string
	Time   time.Time
	Value  float64
}
