package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-logscope/internal/api"
	"github.com/miradorstack/mirador-logscope/internal/cache"
	"github.com/miradorstack/mirador-logscope/internal/engine"
	"github.com/miradorstack/mirador-logscope/internal/ingest"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
)

func newMonitorCmd(flags *rootFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Re-scan the log directory on an interval and alert on anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()
			if interval > 0 {
				a.cfg.Monitor.Interval = interval
			}
			return runMonitor(a)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "scan interval (overrides monitor.interval)")
	return cmd
}

func runMonitor(a *app) error {
	cfg := a.cfg
	logger := a.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := a.pipeline(ctx, true, true)
	if err != nil {
		return err
	}

	seen, err := cache.NewBigCacheProvider(ctx, cache.BigCacheConfig{
		LifeWindow: cfg.Monitor.SeenTTL,
		MaxSizeMB:  cfg.Monitor.CacheSizeMB,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, seen)

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		return err
	}
	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	var metricsServer *api.MetricsServer
	if cfg.Server.MetricsAddress != "" {
		metricsServer = api.NewMetricsServer(cfg.Server.MetricsAddress, prometheus.DefaultGatherer, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	if cfg.Patterns.Watch && cfg.Patterns.Path != "" {
		watcher := patterns.NewWatcher(logger, cfg.Patterns.Path, a.registry, nil)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("pattern watcher stopped", slog.Any("error", err))
			}
		}()
	}

	logger.Info("monitor started",
		slog.String("directory", cfg.Logs.Directory),
		slog.String("glob", cfg.Logs.Glob),
		slog.Duration("interval", cfg.Monitor.Interval),
		slog.String("address", server.Address()))

	ticker := time.NewTicker(cfg.Monitor.Interval)
	defer ticker.Stop()
loop:
	for {
		if err := monitorCycle(ctx, a, p, seen); err != nil {
			if errors.Is(err, context.Canceled) {
				break loop
			}
			server.SetServing(false)
			logger.Warn("monitor cycle failed", slog.Any("error", err))
		} else {
			server.SetServing(true)
		}

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	logger.Info("monitor stopped")
	return nil
}

// monitorCycle processes files that are new or changed since they were last
// seen. A rewritten file is analysed again from the start.
func monitorCycle(ctx context.Context, a *app, p *engine.Pipeline, seen cache.Provider) error {
	files, err := ingest.Discover(a.cfg.Logs.Directory, a.cfg.Logs.Glob, a.cfg.Logs.Recursive)
	if err != nil {
		return err
	}
	fresh, err := ingest.Unseen(ctx, seen, files, a.cfg.Monitor.SeenTTL)
	if err != nil {
		a.logger.Warn("seen-file cache errors", slog.Any("error", err))
	}
	if len(fresh) == 0 {
		a.logger.Debug("no new log files", slog.Int("discovered", len(files)))
		return nil
	}

	report, err := p.Run(ctx, fresh)
	if err != nil {
		return err
	}
	a.logger.Info("monitor cycle finished",
		slog.String("run_id", report.RunID),
		slog.Int("files", len(report.Files)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("alerts", len(report.Emitted())))
	return nil
}
