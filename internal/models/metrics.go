package models

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnknownMetric is returned when a caller asks for a metric name the set does not define.
	ErrUnknownMetric = errors.New("unknown metric")
	// ErrNoData is returned when a metric is defined but the batch carried no data for it.
	ErrNoData = errors.New("no data")
)

// Stat is a single statistic that may be absent. An absent Stat means the
// input carried no data, which is different from a measured zero.
type Stat struct {
	Value   float64
	Present bool
}

// Of returns a present Stat.
func Of(v float64) Stat {
	return Stat{Value: v, Present: true}
}

// NoData returns an absent Stat.
func NoData() Stat {
	return Stat{}
}

// String renders the value or "n/a".
func (s Stat) String() string {
	if !s.Present {
		return "n/a"
	}
	return strconv.FormatFloat(s.Value, 'f', 3, 64)
}

// ResponseTimeStats summarises response times in seconds.
type ResponseTimeStats struct {
	Samples int
	Mean    Stat
	Median  Stat
	P95     Stat
	P99     Stat
	Max     Stat
}

// EndpointStats aggregates requests for one path.
type EndpointStats struct {
	Path        string
	Count       int
	Errors      int
	ErrorRate   float64
	Samples     int
	Mean        Stat
	Median      Stat
	P95         Stat
	Max         Stat
	Slow        bool
	SlowReasons []string
}

// IssueType enumerates performance issues raised against thresholds.
type IssueType string

const (
	IssueHighResponseTime IssueType = "high_overall_response_time"
	IssueHighErrorRate    IssueType = "high_error_rate"
	IssueSlowEndpoint     IssueType = "slow_endpoint"
)

// Issue is a threshold breach found by the performance analyzer.
type Issue struct {
	Type            IssueType
	Severity        Severity
	Endpoint        string
	Description     string
	Value           float64
	Threshold       float64
	Recommendations []string
}

// MetricSet holds per-batch performance statistics. It is produced once per
// batch and not modified afterwards.
type MetricSet struct {
	NoData        bool
	TotalRecords  int
	ResponseTime  ResponseTimeStats
	Endpoints     []EndpointStats
	StatusCodes   map[int]int
	StatusClasses map[string]int
	ErrorCount    int
	ErrorRate     Stat
	HighErrorRate bool
	Issues        []Issue
}

// Metric names accepted by Lookup.
const (
	MetricResponseTimeMean   = "response_time.mean"
	MetricResponseTimeMedian = "response_time.median"
	MetricResponseTimeP95    = "response_time.p95"
	MetricResponseTimeP99    = "response_time.p99"
	MetricResponseTimeMax    = "response_time.max"
	MetricErrorRate          = "error_rate"
	MetricTotalRecords       = "total_records"
)

// MetricNames lists every name Lookup understands.
func MetricNames() []string {
	return []string{
		MetricResponseTimeMean,
		MetricResponseTimeMedian,
		MetricResponseTimeP95,
		MetricResponseTimeP99,
		MetricResponseTimeMax,
		MetricErrorRate,
		MetricTotalRecords,
	}
}

// Lookup returns a named statistic. Unknown names are a programming error
// and yield ErrUnknownMetric; absent values yield ErrNoData.
func (m MetricSet) Lookup(name string) (float64, error) {
	var s Stat
	switch name {
	case MetricResponseTimeMean:
		s = m.ResponseTime.Mean
	case MetricResponseTimeMedian:
		s = m.ResponseTime.Median
	case MetricResponseTimeP95:
		s = m.ResponseTime.P95
	case MetricResponseTimeP99:
		s = m.ResponseTime.P99
	case MetricResponseTimeMax:
		s = m.ResponseTime.Max
	case MetricErrorRate:
		s = m.ErrorRate
	case MetricTotalRecords:
		if !m.NoData {
			s = Of(float64(m.TotalRecords))
		}
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	if !s.Present {
		return 0, fmt.Errorf("%s: %w", name, ErrNoData)
	}
	return s.Value, nil
}

// SlowEndpoints returns the endpoints flagged as slow.
func (m MetricSet) SlowEndpoints() []EndpointStats {
	out := make([]EndpointStats, 0)
	for _, ep := range m.Endpoints {
		if ep.Slow {
			out = append(out, ep)
		}
	}
	return out
}
