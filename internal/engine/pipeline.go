package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-logscope/internal/alerting"
	"github.com/miradorstack/mirador-logscope/internal/analyzers"
	"github.com/miradorstack/mirador-logscope/internal/detector"
	"github.com/miradorstack/mirador-logscope/internal/ingest"
	"github.com/miradorstack/mirador-logscope/internal/metrics"
	"github.com/miradorstack/mirador-logscope/internal/models"
	"github.com/miradorstack/mirador-logscope/internal/parser"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// Series names fed to the detector.
const (
	SeriesResponseTime = "response_time"
	SeriesErrorRate    = "error_rate"
	SeriesRequestRate  = "request_rate"
)

// VariantAuto asks the pipeline to detect the variant from each file's first lines.
const VariantAuto = "auto"

// Store persists analysed files and serves historical samples.
type Store interface {
	SaveFile(ctx context.Context, runID string, batch models.Batch, report models.FileReport, samples []models.MetricSample) error
	Baseline(ctx context.Context, metric, source string, limit int) ([]float64, error)
}

// Archiver keeps a copy of a finished run.
type Archiver interface {
	Archive(ctx context.Context, report models.RunReport) error
}

// Dispatcher delivers emitted alert decisions.
type Dispatcher interface {
	Dispatch(ctx context.Context, decisions []models.AlertDecision) error
}

// Options controls how files are parsed and analysed.
type Options struct {
	Family string
	// Variant pins one pattern. Empty tries every variant per line; VariantAuto
	// detects one per file.
	Variant         string
	TrafficInterval time.Duration
	BaselinePoints  int
	Workers         int
	MaxLineBytes    int
}

// Dependencies are the collaborators a Pipeline drives. Store, Archiver,
// Dispatcher, Rules and Cursors may be nil. With Cursors set, ProcessFile
// only reads what was appended since the previous call for the same path.
type Dependencies struct {
	Registry    *patterns.Registry
	Parser      *parser.Parser
	Performance *analyzers.PerformanceAnalyzer
	Security    *analyzers.SecurityAnalyzer
	Detector    *detector.Detector
	Throttle    *alerting.Throttle
	Rules       *RuleEngine
	Store       Store
	Archiver    Archiver
	Dispatcher  Dispatcher
	Cursors     ingest.Cursors
}

// Pipeline runs files through parse, analysis, detection and alerting.
type Pipeline struct {
	logger    *slog.Logger
	deps      Dependencies
	opts      Options
	latencies *utils.LatencyTracker
	now       func() time.Time
}

// NewPipeline constructs a pipeline. Registry, Parser, Performance, Security,
// Detector and Throttle are required.
func NewPipeline(logger *slog.Logger, deps Dependencies, opts Options) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("pattern registry not configured")
	case deps.Parser == nil:
		return nil, fmt.Errorf("parser not configured")
	case deps.Performance == nil || deps.Security == nil:
		return nil, fmt.Errorf("analyzers not configured")
	case deps.Detector == nil:
		return nil, fmt.Errorf("detector not configured")
	case deps.Throttle == nil:
		return nil, fmt.Errorf("throttle not configured")
	}
	if opts.Family == "" {
		opts.Family = "apache"
	}
	if opts.TrafficInterval <= 0 {
		opts.TrafficInterval = analyzers.DefaultTrafficInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{
		logger:    logger,
		deps:      deps,
		opts:      opts,
		latencies: utils.NewLatencyTracker(1024),
		now:       time.Now,
	}, nil
}

// Run processes files with up to Options.Workers in parallel. Files that
// cannot be read or matched are reported as skipped; only cancellation fails
// the run.
func (p *Pipeline) Run(ctx context.Context, files []string) (models.RunReport, error) {
	report := models.RunReport{RunID: uuid.NewString(), StartedAt: p.now().UTC()}

	results := make([]*models.FileReport, len(files))
	var (
		mu      sync.Mutex
		skipped = make(map[int]models.SkippedFile)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr, err := p.ProcessFile(gctx, report.RunID, file)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				p.logger.Warn("skipping log file", slog.String("file", file), slog.Any("error", err))
				metrics.ObserveFile(0, metrics.OutcomeSkipped)
				mu.Lock()
				skipped[i] = models.SkippedFile{File: file, Reason: err.Error()}
				mu.Unlock()
				return nil
			}
			results[i] = &fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for i, fr := range results {
		if fr != nil {
			report.Files = append(report.Files, *fr)
		} else if s, ok := skipped[i]; ok {
			report.Skipped = append(report.Skipped, s)
		}
	}
	report.FinishedAt = p.now().UTC()

	if p.deps.Archiver != nil {
		if err := p.deps.Archiver.Archive(ctx, report); err != nil {
			p.logger.Warn("failed to archive run report", slog.String("run_id", report.RunID), slog.Any("error", err))
		}
	}
	if count := p.latencies.Count(); count > 0 {
		p.logger.Info("run finished",
			slog.String("run_id", report.RunID),
			slog.Int("files", len(report.Files)),
			slog.Int("skipped", len(report.Skipped)),
			slog.Duration("p95_file", p.latencies.Percentile(95)))
	}
	return report, nil
}

// ProcessFile reads path and analyses its lines.
func (p *Pipeline) ProcessFile(ctx context.Context, runID, path string) (models.FileReport, error) {
	lines, err := p.read(ctx, path)
	if err != nil {
		return models.FileReport{File: path}, err
	}
	if p.deps.Cursors != nil && len(lines.Lines) == 0 && lines.Oversized == 0 {
		return models.FileReport{File: path, Warnings: []string{"no new complete lines"}}, nil
	}

	report, err := p.ProcessLines(ctx, runID, path, lines.Lines)
	if err != nil {
		return report, err
	}
	if lines.Oversized > 0 {
		report.Parse.Failed += lines.Oversized
		report.Parse.Total += lines.Oversized
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d line(s) exceeded the %d byte limit", lines.Oversized, p.maxLineBytes()))
	}
	if lines.Restarted {
		report.Warnings = append(report.Warnings, "file was truncated or rotated, read from the start")
	}
	if p.deps.Cursors != nil {
		if err := p.deps.Cursors.SetOffset(ctx, path, lines.End); err != nil {
			p.logger.Warn("failed to store read offset", slog.String("file", path), slog.Any("error", err))
			report.Warnings = append(report.Warnings, "read offset was not stored")
		}
	}
	return report, nil
}

func (p *Pipeline) read(ctx context.Context, path string) (ingest.Lines, error) {
	if p.deps.Cursors == nil {
		return ingest.ReadFile(path, p.opts.MaxLineBytes)
	}
	offset, err := p.deps.Cursors.Offset(ctx, path)
	if err != nil {
		p.logger.Warn("read offset unavailable, reading from the start", slog.String("file", path), slog.Any("error", err))
		offset = 0
	}
	return ingest.ReadFileFrom(path, offset, p.opts.MaxLineBytes)
}

func (p *Pipeline) maxLineBytes() int {
	if p.opts.MaxLineBytes > 0 {
		return p.opts.MaxLineBytes
	}
	return ingest.DefaultMaxLineBytes
}

// ProcessLines runs one batch of lines from source through the pipeline.
// An unknown pattern or undetectable format is returned as an error so the
// caller can skip the source.
func (p *Pipeline) ProcessLines(ctx context.Context, runID, source string, lines []string) (models.FileReport, error) {
	start := time.Now()
	report := models.FileReport{File: source}

	target, err := p.target(lines)
	if err != nil {
		return report, utils.NewFileError("parse", source, "resolve log pattern", err)
	}
	if target.Pattern != nil {
		report.Pattern = target.Pattern.ID()
	} else {
		report.Pattern = target.Family
	}

	batch, stats, err := p.deps.Parser.ParseLines(source, lines, target)
	if err != nil {
		return report, utils.NewFileError("parse", source, "parse lines", err)
	}
	report.Parse = stats
	metrics.AddLines(stats.Parsed, stats.Failed, stats.Blank)
	if stats.Failed > 0 {
		p.logger.Debug("unparsed lines", slog.String("file", source), slog.Int("failed", stats.Failed), slog.Any("samples", stats.Samples))
	}

	report.Metrics = p.deps.Performance.Analyze(batch)
	report.Traffic = analyzers.Traffic(batch, p.opts.TrafficInterval)
	if report.Traffic.Sparse {
		report.Warnings = append(report.Warnings, "timestamps span too many intervals, empty traffic buckets omitted")
	}
	report.Security = p.deps.Security.Analyze(batch)

	if batch.Len() == 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("no records parsed from %d line(s), %d failed", stats.Total, stats.Failed))
		report.Duration = time.Since(start)
		p.observe(report)
		return report, nil
	}

	series := p.buildSeries(batch, report.Traffic)
	samples := make([]models.MetricSample, 0)
	for i := range series {
		if p.deps.Store != nil && p.opts.BaselinePoints > 0 {
			baseline, err := p.deps.Store.Baseline(ctx, series[i].Metric, source, p.opts.BaselinePoints)
			if err != nil {
				p.logger.Debug("baseline unavailable", slog.String("metric", series[i].Metric), slog.Any("error", err))
			}
			series[i].Baseline = baseline
		}
		report.Anomalies = append(report.Anomalies, p.deps.Detector.Detect(series[i])...)
		for _, pt := range series[i].Points {
			samples = append(samples, models.MetricSample{Metric: series[i].Metric, Source: source, Time: pt.Time, Value: pt.Value})
		}
	}

	report.Decisions = p.deps.Throttle.Evaluate(report.Anomalies, p.now().UTC())
	for i := range report.Decisions {
		if report.Decisions[i].Emitted() {
			report.Decisions[i].Recommendations = p.deps.Rules.RecommendAlert(report.Decisions[i])
		}
	}
	issues := make([]models.Issue, len(report.Metrics.Issues))
	for i, issue := range report.Metrics.Issues {
		issue.Recommendations = p.deps.Rules.RecommendIssue(issue)
		issues[i] = issue
	}
	report.Metrics.Issues = issues
	report.Duration = time.Since(start)

	if p.deps.Store != nil {
		if err := p.deps.Store.SaveFile(ctx, runID, batch, report, samples); err != nil {
			p.logger.Warn("failed to persist file report", slog.String("file", source), slog.Any("error", err))
			report.Warnings = append(report.Warnings, "results were not persisted")
		}
	}
	if p.deps.Dispatcher != nil {
		if err := p.deps.Dispatcher.Dispatch(ctx, report.Decisions); err != nil {
			report.Warnings = append(report.Warnings, "alert delivery failed: "+err.Error())
		}
	}

	p.observe(report)
	return report, nil
}

func (p *Pipeline) target(lines []string) (parser.Target, error) {
	switch p.opts.Variant {
	case "":
		return parser.Target{Family: p.opts.Family}, nil
	case VariantAuto:
		pattern, err := p.deps.Parser.DetectVariant(lines, p.opts.Family)
		if err != nil {
			return parser.Target{}, err
		}
		return parser.Target{Family: p.opts.Family, Pattern: pattern}, nil
	default:
		pattern, err := p.deps.Registry.Resolve(p.opts.Family, p.opts.Variant)
		if err != nil {
			return parser.Target{}, err
		}
		return parser.Target{Family: p.opts.Family, Pattern: pattern}, nil
	}
}

// buildSeries derives per-record response times and per-bucket error and
// request rates.
func (p *Pipeline) buildSeries(batch models.Batch, traffic models.Traffic) []detector.Series {
	out := make([]detector.Series, 0, 3)

	values, stamps := batch.ResponseTimes()
	if len(values) > 0 {
		out = append(out, detector.Series{Metric: SeriesResponseTime, Source: batch.Source, Points: points(values, stamps)})
	}

	if rates, starts := analyzers.ErrorRateSeries(traffic); len(rates) > 0 {
		out = append(out, detector.Series{Metric: SeriesErrorRate, Source: batch.Source, Points: points(rates, starts)})
	}

	if len(traffic.Buckets) > 0 {
		starts := make([]time.Time, len(traffic.Buckets))
		for i, b := range traffic.Buckets {
			starts[i] = b.Start
		}
		out = append(out, detector.Series{Metric: SeriesRequestRate, Source: batch.Source, Points: points(analyzers.RequestSeries(traffic), starts)})
	}
	return out
}

func points(values []float64, stamps []time.Time) []detector.Point {
	out := make([]detector.Point, len(values))
	for i, v := range values {
		out[i] = detector.Point{Time: stamps[i], Value: v}
	}
	return out
}

func (p *Pipeline) observe(report models.FileReport) {
	p.latencies.Observe(report.Duration)
	metrics.ObserveFile(report.Duration, metrics.OutcomeSuccess)
	for _, ev := range report.Anomalies {
		metrics.IncAnomaly(ev.Metric, string(ev.Severity))
	}
	for _, d := range report.Decisions {
		metrics.IncDecision(string(d.Outcome), d.Reason)
	}
	counts := make(map[models.Category]int)
	for _, f := range report.Security.Findings {
		counts[f.Category]++
	}
	for category, n := range counts {
		metrics.AddThreats(string(category), n)
	}
}
