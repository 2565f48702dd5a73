package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// Scope decides which event fields form a throttle key.
type Scope string

const (
	// ScopeMetric throttles per metric regardless of source.
	ScopeMetric Scope = "metric"
	// ScopeMetricSource throttles each (metric, source) pair separately.
	ScopeMetricSource Scope = "metric_source"
)

// ThrottleConfig configures a Throttle.
type ThrottleConfig struct {
	MinAnomalies int
	Period       time.Duration
	Scope        Scope
}

// DefaultThrottleConfig returns one anomaly per alert and a one hour quiet period.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{MinAnomalies: 1, Period: time.Hour, Scope: ScopeMetric}
}

// Throttle turns anomaly events into alert decisions and remembers when each
// key last emitted. One Throttle lives for one monitoring run.
type Throttle struct {
	mu   sync.Mutex
	cfg  ThrottleConfig
	last map[models.AlertKey]time.Time

	newID func() string
}

// NewThrottle constructs a Throttle with empty state.
func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.MinAnomalies < 1 {
		cfg.MinAnomalies = 1
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeMetric
	}
	return &Throttle{
		cfg:   cfg,
		last:  make(map[models.AlertKey]time.Time),
		newID: func() string { return uuid.NewString() },
	}
}

// Key returns the throttle key for ev under the configured scope.
func (t *Throttle) Key(ev models.AnomalyEvent) models.AlertKey {
	if t.cfg.Scope == ScopeMetricSource {
		return models.AlertKey{Metric: ev.Metric, Source: ev.Source}
	}
	return models.AlertKey{Metric: ev.Metric}
}

// Evaluate groups events by key in first-seen order and returns one decision
// per group. Deciding and recording an emission happen under one lock, so
// concurrent callers never both emit for a key inside the period.
func (t *Throttle) Evaluate(events []models.AnomalyEvent, now time.Time) []models.AlertDecision {
	if len(events) == 0 {
		return nil
	}
	order := make([]models.AlertKey, 0)
	groups := make(map[models.AlertKey][]models.AnomalyEvent)
	for _, ev := range events {
		key := t.Key(ev)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ev)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	decisions := make([]models.AlertDecision, 0, len(order))
	for _, key := range order {
		group := groups[key]
		decision := models.AlertDecision{
			ID:        t.newID(),
			Key:       key,
			Events:    group,
			DecidedAt: now,
			Outcome:   models.OutcomeSuppressed,
		}
		last, seen := t.last[key]
		active := seen && now.Sub(last) < t.cfg.Period

		switch {
		case len(group) < t.cfg.MinAnomalies:
			decision.Reason = models.ReasonBelowThreshold
			if active {
				decision.WindowID = windowID(key, last)
			}
		case active:
			decision.Reason = models.ReasonThrottled
			decision.WindowID = windowID(key, last)
		default:
			decision.Outcome = models.OutcomeEmitted
			decision.Reason = models.ReasonEmitted
			decision.WindowID = windowID(key, now)
			t.last[key] = now
		}
		decisions = append(decisions, decision)
	}
	return decisions
}

// LastEmitted returns when key last produced an alert.
func (t *Throttle) LastEmitted(key models.AlertKey) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[key]
	return ts, ok
}

// Reset forgets every emission.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[models.AlertKey]time.Time)
}

func windowID(key models.AlertKey, start time.Time) string {
	return fmt.Sprintf("%s/%d", key, start.Unix())
}
