package detector

import (
	"fmt"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// Point is one sample of a metric series.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a metric derived from one batch. Baseline holds historical values
// that sharpen the reference statistics but are never flagged themselves.
type Series struct {
	Metric   string
	Source   string
	Points   []Point
	Baseline []float64
}

// Values returns the point values in order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Config selects a default strategy plus optional per-metric overrides.
type Config struct {
	Method  string
	Methods map[string]string
	Params  Params
}

// Detector maps series onto anomaly events. It holds no state between calls.
type Detector struct {
	fallback  Strategy
	perMetric map[string]Strategy
}

// NewDetector builds the configured strategies. Unknown method names fail.
func NewDetector(cfg Config) (*Detector, error) {
	fallback, err := New(cfg.Method, cfg.Params)
	if err != nil {
		return nil, err
	}
	d := &Detector{fallback: fallback, perMetric: make(map[string]Strategy, len(cfg.Methods))}
	for metric, method := range cfg.Methods {
		s, err := New(method, cfg.Params)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", metric, err)
		}
		d.perMetric[metric] = s
	}
	return d, nil
}

// StrategyFor returns the strategy applied to metric.
func (d *Detector) StrategyFor(metric string) Strategy {
	if s, ok := d.perMetric[metric]; ok {
		return s
	}
	return d.fallback
}

// Detect returns one event per outlier, in series order.
func (d *Detector) Detect(series Series) []models.AnomalyEvent {
	strategy := d.StrategyFor(series.Metric)
	outliers := strategy.Outliers(series.Values(), series.Baseline)
	events := make([]models.AnomalyEvent, 0, len(outliers))
	for _, o := range outliers {
		p := series.Points[o.Index]
		events = append(events, models.AnomalyEvent{
			Metric:    series.Metric,
			Source:    series.Source,
			Method:    strategy.Name(),
			Index:     o.Index,
			Timestamp: p.Time,
			Observed:  p.Value,
			Baseline:  o.Reference,
			Score:     o.Score,
			Severity:  models.SeverityFromScore(o.Score),
		})
	}
	return events
}
