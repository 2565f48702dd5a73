package analyzers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-logscope/internal/models"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// Thresholds configures when performance figures become issues. Response
// times are in seconds; HighErrorRate is a fraction.
type Thresholds struct {
	SlowEndpointAvg     float64
	SlowEndpointP95     float64
	HighErrorRate       float64
	MinEndpointRequests int
}

// DefaultThresholds mirrors the shipped configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlowEndpointAvg:     0.5,
		SlowEndpointP95:     1.0,
		HighErrorRate:       0.05,
		MinEndpointRequests: 1,
	}
}

// PerformanceAnalyzer derives response-time and status statistics from a batch.
type PerformanceAnalyzer struct {
	thresholds Thresholds
}

// NewPerformanceAnalyzer constructs an analyzer.
func NewPerformanceAnalyzer(thresholds Thresholds) *PerformanceAnalyzer {
	if thresholds.MinEndpointRequests < 1 {
		thresholds.MinEndpointRequests = 1
	}
	return &PerformanceAnalyzer{thresholds: thresholds}
}

// Analyze computes the MetricSet for batch. Only access records contribute.
// Statistics with no input are returned as absent rather than zero.
func (a *PerformanceAnalyzer) Analyze(batch models.Batch) models.MetricSet {
	records := batch.Access()
	set := models.MetricSet{
		TotalRecords:  len(records),
		StatusCodes:   make(map[int]int),
		StatusClasses: make(map[string]int),
		Endpoints:     make([]models.EndpointStats, 0),
		Issues:        make([]models.Issue, 0),
	}
	if len(records) == 0 {
		set.NoData = true
		return set
	}

	times := make([]float64, 0, len(records))
	type group struct {
		count  int
		errors int
		times  []float64
	}
	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, r := range records {
		set.StatusCodes[r.Status]++
		set.StatusClasses[statusClass(r.Status)]++
		if r.IsError() {
			set.ErrorCount++
		}
		if r.HasResponseTime {
			times = append(times, r.ResponseTime)
		}

		path := r.Path()
		g, ok := groups[path]
		if !ok {
			g = &group{}
			groups[path] = g
			order = append(order, path)
		}
		g.count++
		if r.IsError() {
			g.errors++
		}
		if r.HasResponseTime {
			g.times = append(g.times, r.ResponseTime)
		}
	}

	set.ResponseTime = summarise(times)
	set.ErrorRate = models.Of(float64(set.ErrorCount) / float64(len(records)))
	set.HighErrorRate = set.ErrorRate.Value > a.thresholds.HighErrorRate

	for _, path := range order {
		g := groups[path]
		ep := models.EndpointStats{
			Path:      path,
			Count:     g.count,
			Errors:    g.errors,
			ErrorRate: float64(g.errors) / float64(g.count),
			Samples:   len(g.times),
		}
		summary := summarise(g.times)
		ep.Mean, ep.Median, ep.P95, ep.Max = summary.Mean, summary.Median, summary.P95, summary.Max
		if g.count >= a.thresholds.MinEndpointRequests {
			if ep.Mean.Present && ep.Mean.Value > a.thresholds.SlowEndpointAvg {
				ep.Slow = true
				ep.SlowReasons = append(ep.SlowReasons, fmt.Sprintf("mean %.3fs > %.3fs", ep.Mean.Value, a.thresholds.SlowEndpointAvg))
			}
			if ep.P95.Present && ep.P95.Value > a.thresholds.SlowEndpointP95 {
				ep.Slow = true
				ep.SlowReasons = append(ep.SlowReasons, fmt.Sprintf("p95 %.3fs > %.3fs", ep.P95.Value, a.thresholds.SlowEndpointP95))
			}
		}
		set.Endpoints = append(set.Endpoints, ep)
	}
	sort.SliceStable(set.Endpoints, func(i, j int) bool {
		if set.Endpoints[i].Count != set.Endpoints[j].Count {
			return set.Endpoints[i].Count > set.Endpoints[j].Count
		}
		return set.Endpoints[i].Path < set.Endpoints[j].Path
	})

	set.Issues = a.issues(set)
	return set
}

func (a *PerformanceAnalyzer) issues(set models.MetricSet) []models.Issue {
	issues := make([]models.Issue, 0)
	if p95 := set.ResponseTime.P95; p95.Present && p95.Value > a.thresholds.SlowEndpointP95 {
		issues = append(issues, models.Issue{
			Type:        models.IssueHighResponseTime,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("95th percentile response time (%.2fs) exceeds threshold (%.2fs)", p95.Value, a.thresholds.SlowEndpointP95),
			Value:       p95.Value,
			Threshold:   a.thresholds.SlowEndpointP95,
		})
	}
	if set.HighErrorRate {
		issues = append(issues, models.Issue{
			Type:        models.IssueHighErrorRate,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Error rate (%.2f%%) exceeds threshold (%.2f%%)", set.ErrorRate.Value*100, a.thresholds.HighErrorRate*100),
			Value:       set.ErrorRate.Value,
			Threshold:   a.thresholds.HighErrorRate,
		})
	}
	for _, ep := range set.SlowEndpoints() {
		value, threshold := ep.P95.Value, a.thresholds.SlowEndpointP95
		if ep.Mean.Present && ep.Mean.Value > a.thresholds.SlowEndpointAvg {
			value, threshold = ep.Mean.Value, a.thresholds.SlowEndpointAvg
		}
		issues = append(issues, models.Issue{
			Type:        models.IssueSlowEndpoint,
			Severity:    models.SeverityMedium,
			Endpoint:    ep.Path,
			Description: fmt.Sprintf("Endpoint %s is slow (%s)", ep.Path, strings.Join(ep.SlowReasons, ", ")),
			Value:       value,
			Threshold:   threshold,
		})
	}
	return issues
}

// summarise computes mean, median, p95, p99 and max. An empty input yields
// absent statistics.
func summarise(values []float64) models.ResponseTimeStats {
	out := models.ResponseTimeStats{Samples: len(values)}
	if len(values) == 0 {
		out.Mean, out.Median, out.P95, out.P99, out.Max = models.NoData(), models.NoData(), models.NoData(), models.NoData(), models.NoData()
		return out
	}
	sorted := utils.Sorted(values)
	out.Mean = models.Of(stat.Mean(sorted, nil))
	out.Median = models.Of(utils.Quantile(sorted, 0.5))
	out.P95 = models.Of(utils.Quantile(sorted, 0.95))
	out.P99 = models.Of(utils.Quantile(sorted, 0.99))
	out.Max = models.Of(sorted[len(sorted)-1])
	return out
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
