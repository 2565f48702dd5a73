package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-logscope/internal/alerting"
	"github.com/miradorstack/mirador-logscope/internal/analyzers"
	"github.com/miradorstack/mirador-logscope/internal/config"
	"github.com/miradorstack/mirador-logscope/internal/detector"
	"github.com/miradorstack/mirador-logscope/internal/engine"
	"github.com/miradorstack/mirador-logscope/internal/ingest"
	"github.com/miradorstack/mirador-logscope/internal/metrics"
	"github.com/miradorstack/mirador-logscope/internal/parser"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
	"github.com/miradorstack/mirador-logscope/internal/render"
	"github.com/miradorstack/mirador-logscope/internal/storage"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// app holds what every subcommand shares: configuration, the logger and the
// compiled pattern registry.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *patterns.Registry
	closers  []io.Closer
}

func loadApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}

	logger, logCloser, err := utils.NewFileLogger(cfg.Logging.Level, cfg.Logging.JSON, cfg.Logging.File)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	set, err := patterns.Load(cfg.Patterns.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	a.registry = patterns.NewRegistry(set)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}

// pipeline wires every stage. persist=false leaves out the SQLite store and
// the S3 archive. tail makes repeated runs read only what each file gained,
// remembering offsets in the store when there is one.
func (a *app) pipeline(ctx context.Context, persist, tail bool) (*engine.Pipeline, error) {
	cfg := a.cfg

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	rules, err := cfg.SecurityRules()
	if err != nil {
		return nil, err
	}
	security, err := analyzers.NewSecurityAnalyzer(rules)
	if err != nil {
		return nil, fmt.Errorf("security rules: %w", err)
	}
	det, err := detector.NewDetector(cfg.DetectorConfig())
	if err != nil {
		return nil, fmt.Errorf("anomaly detection: %w", err)
	}
	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, a.logger)
	if err != nil {
		return nil, fmt.Errorf("load rule pack: %w", err)
	}

	deps := engine.Dependencies{
		Registry:    a.registry,
		Parser:      parser.New(a.registry, parser.WithLocation(loc)),
		Performance: analyzers.NewPerformanceAnalyzer(cfg.Thresholds()),
		Security:    security,
		Detector:    det,
		Throttle:    alerting.NewThrottle(cfg.ThrottleConfig()),
		Rules:       ruleEngine,
	}

	dispatcher, err := a.dispatcher()
	if err != nil {
		return nil, err
	}
	deps.Dispatcher = dispatcher

	baselinePoints := 0
	if persist && cfg.Database.Enabled {
		store, err := storage.OpenSQLite(ctx, cfg.Database.Path, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		deps.Store = store
		baselinePoints = cfg.Anomaly.BaselinePoints
		if tail {
			deps.Cursors = store
		}
	}
	if tail && deps.Cursors == nil {
		deps.Cursors = ingest.NewMemoryCursors()
	}
	if persist && cfg.Archive.Enabled {
		archiver, err := storage.NewS3Archiver(ctx, storage.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			UsePathStyle:    cfg.Archive.UsePathStyle,
		}, &render.JSON{}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("s3 archive: %w", err)
		}
		deps.Archiver = archiver
	}

	return engine.NewPipeline(a.logger, deps, engine.Options{
		Family:          cfg.Logs.Family,
		Variant:         cfg.Logs.Variant,
		TrafficInterval: cfg.Anomaly.WindowSize,
		BaselinePoints:  baselinePoints,
		Workers:         cfg.Logs.Workers,
		MaxLineBytes:    cfg.Logs.MaxLineBytes,
	})
}

func (a *app) dispatcher() (*alerting.Dispatcher, error) {
	var notifiers []alerting.Notifier
	if a.cfg.Notifiers.Log {
		notifiers = append(notifiers, alerting.NewLogNotifier(a.logger))
	}
	if a.cfg.Notifiers.HEC.Enabled {
		hec, err := alerting.NewHECNotifier(a.cfg.HECNotifierConfig())
		if err != nil {
			return nil, fmt.Errorf("hec notifier: %w", err)
		}
		notifiers = append(notifiers, hec)
	}
	return alerting.NewDispatcher(a.logger, notifiers...), nil
}
