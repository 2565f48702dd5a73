package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// Notifier delivers emitted alerts. Delivery is best effort.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, decision models.AlertDecision) error
}

// Dispatcher fans emitted decisions out to every notifier.
type Dispatcher struct {
	logger    *slog.Logger
	notifiers []Notifier
}

// NewDispatcher constructs a Dispatcher. Nil notifiers are ignored.
func NewDispatcher(logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Len returns the number of configured notifiers.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Dispatch sends every emitted decision to every notifier and returns the
// joined delivery errors. Suppressed decisions are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, decisions []models.AlertDecision) error {
	var errs []error
	for _, decision := range decisions {
		if !decision.Emitted() {
			continue
		}
		for _, n := range d.notifiers {
			if err := n.Notify(ctx, decision); err != nil {
				d.logger.Warn("alert delivery failed",
					slog.String("notifier", n.Name()),
					slog.String("alert_id", decision.ID),
					slog.Any("error", err))
				errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Subject is the one-line headline for a decision.
func Subject(d models.AlertDecision) string {
	return fmt.Sprintf("[logscope] %s anomaly on %s: %d event(s)", d.MaxSeverity(), d.Key, len(d.Events))
}

// Body renders a plain-text description of a decision.
func Body(d models.AlertDecision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert %s (window %s)\n", d.ID, d.WindowID)
	for _, ev := range d.Events {
		fmt.Fprintf(&b, "- %s %s observed=%.4f baseline=%.4f score=%.2f method=%s",
			ev.Timestamp.Format("2006-01-02T15:04:05Z07:00"), ev.Metric, ev.Observed, ev.Baseline, ev.Score, ev.Method)
		if ev.Source != "" {
			fmt.Fprintf(&b, " source=%s", ev.Source)
		}
		b.WriteByte('\n')
	}
	if len(d.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, r := range d.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String()
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, d models.AlertDecision) error {
	n.logger.Warn(Subject(d),
		slog.String("alert_id", d.ID),
		slog.String("key", d.Key.String()),
		slog.String("window", d.WindowID),
		slog.String("severity", string(d.MaxSeverity())),
		slog.Int("events", len(d.Events)),
		slog.Any("recommendations", d.Recommendations))
	return nil
}
