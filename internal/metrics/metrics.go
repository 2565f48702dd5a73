package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels files that were analysed.
	OutcomeSuccess = "success"
	// OutcomeSkipped labels files the pipeline could not process.
	OutcomeSkipped = "skipped"
)

var (
	linesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_logscope",
			Name:      "lines_total",
			Help:      "Log lines read, partitioned by parse result.",
		},
		[]string{"result"},
	)

	filesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_logscope",
			Name:      "files_total",
			Help:      "Log files handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	fileDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_logscope",
			Name:      "file_seconds",
			Help:      "Time spent analysing one log file.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	anomaliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_logscope",
			Name:      "anomalies_total",
			Help:      "Anomalies detected, partitioned by metric and severity.",
		},
		[]string{"metric", "severity"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_logscope",
			Name:      "alert_decisions_total",
			Help:      "Alert decisions, partitioned by outcome and reason.",
		},
		[]string{"outcome", "reason"},
	)

	threatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_logscope",
			Name:      "threat_findings_total",
			Help:      "Security findings, partitioned by category.",
		},
		[]string{"category"},
	)
)

// Register attaches mirador-logscope collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		linesTotal,
		filesTotal,
		fileDurationSeconds,
		anomaliesTotal,
		alertsTotal,
		threatsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveFile records a file duration and outcome label.
func ObserveFile(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeSkipped {
		label = OutcomeSuccess
	}
	filesTotal.WithLabelValues(label).Inc()
	if label == OutcomeSkipped {
		return
	}
	if duration < 0 {
		duration = 0
	}
	fileDurationSeconds.Observe(duration.Seconds())
}

// AddLines counts parsed, failed and blank lines.
func AddLines(parsed, failed, blank int) {
	linesTotal.WithLabelValues("parsed").Add(float64(parsed))
	linesTotal.WithLabelValues("failed").Add(float64(failed))
	linesTotal.WithLabelValues("blank").Add(float64(blank))
}

// IncAnomaly counts one detected anomaly.
func IncAnomaly(metric, severity string) {
	anomaliesTotal.WithLabelValues(metric, severity).Inc()
}

// IncDecision counts one alert decision.
func IncDecision(outcome, reason string) {
	alertsTotal.WithLabelValues(outcome, reason).Inc()
}

// AddThreats counts findings of one category.
func AddThreats(category string, n int) {
	if n <= 0 {
		return
	}
	threatsTotal.WithLabelValues(category).Add(float64(n))
}
