package models

import "time"

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromScore maps a deviation score onto a severity band.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 4:
		return SeverityCritical
	case score >= 3:
		return SeverityHigh
	case score >= 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyEvent is a single outlier found in a metric series.
type AnomalyEvent struct {
	Metric    string
	Source    string
	Method    string
	Index     int
	Timestamp time.Time
	Observed  float64
	Baseline  float64
	Score     float64
	Severity  Severity
}

// Outcome is the result of an alert evaluation.
type Outcome string

const (
	OutcomeEmitted    Outcome = "emitted"
	OutcomeSuppressed Outcome = "suppressed"
)

// Reasons attached to alert decisions.
const (
	ReasonEmitted        = "emitted"
	ReasonBelowThreshold = "below threshold"
	ReasonThrottled      = "throttled"
)

// AlertKey identifies a throttle window.
type AlertKey struct {
	Metric string
	Source string
}

// String renders the key as metric or metric@source.
func (k AlertKey) String() string {
	if k.Source == "" {
		return k.Metric
	}
	return k.Metric + "@" + k.Source
}

// AlertDecision records whether a group of anomalies produced an alert.
type AlertDecision struct {
	ID              string
	Outcome         Outcome
	Reason          string
	Key             AlertKey
	WindowID        string
	Events          []AnomalyEvent
	DecidedAt       time.Time
	Recommendations []string
}

// Emitted reports whether the decision resulted in an alert.
func (d AlertDecision) Emitted() bool {
	return d.Outcome == OutcomeEmitted
}

// MaxSeverity returns the highest severity among the decision's events.
func (d AlertDecision) MaxSeverity() Severity {
	rank := map[Severity]int{SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3}
	best := SeverityLow
	for _, ev := range d.Events {
		if rank[ev.Severity] > rank[best] {
			best = ev.Severity
		}
	}
	return best
}
