package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

var now = time.Date(2023, 10, 10, 14, 0, 0, 0, time.UTC)

func events(metric, source string, n int) []models.AnomalyEvent {
	out := make([]models.AnomalyEvent, n)
	for i := range out {
		out[i] = models.AnomalyEvent{Metric: metric, Source: source, Index: i, Score: 3.5, Severity: models.SeverityHigh}
	}
	return out
}

func TestSecondEvaluationWithinPeriodIsThrottled(t *testing.T) {
	th := NewThrottle(ThrottleConfig{MinAnomalies: 2, Period: time.Hour})

	first := th.Evaluate(events("response_time", "a.log", 2), now)
	if len(first) != 1 || !first[0].Emitted() || first[0].Reason != models.ReasonEmitted {
		t.Fatalf("expected emission, got %+v", first)
	}
	second := th.Evaluate(events("response_time", "a.log", 3), now.Add(10*time.Minute))
	if len(second) != 1 || second[0].Outcome != models.OutcomeSuppressed || second[0].Reason != models.ReasonThrottled {
		t.Fatalf("expected throttled suppression, got %+v", second)
	}
	if second[0].WindowID != first[0].WindowID {
		t.Fatalf("throttled decision should reference the open window %s, got %s", first[0].WindowID, second[0].WindowID)
	}
	last, ok := th.LastEmitted(models.AlertKey{Metric: "response_time"})
	if !ok || !last.Equal(now) {
		t.Fatalf("throttled evaluation must not move the watermark, got %v", last)
	}

	third := th.Evaluate(events("response_time", "a.log", 2), now.Add(time.Hour))
	if !third[0].Emitted() {
		t.Fatalf("expected emission once the period elapsed, got %+v", third[0])
	}
}

func TestBelowThresholdDoesNotUpdateState(t *testing.T) {
	th := NewThrottle(ThrottleConfig{MinAnomalies: 3, Period: time.Hour})
	decisions := th.Evaluate(events("error_rate", "", 2), now)
	if decisions[0].Emitted() || decisions[0].Reason != models.ReasonBelowThreshold {
		t.Fatalf("expected below threshold, got %+v", decisions[0])
	}
	if _, ok := th.LastEmitted(models.AlertKey{Metric: "error_rate"}); ok {
		t.Fatalf("suppressed decision must not record an emission")
	}
	if d := th.Evaluate(events("error_rate", "", 3), now.Add(time.Minute)); !d[0].Emitted() {
		t.Fatalf("expected emission once threshold met")
	}
}

func TestScopeAndGrouping(t *testing.T) {
	mixed := append(events("response_time", "a.log", 1), events("error_rate", "a.log", 1)...)
	mixed = append(mixed, events("response_time", "b.log", 1)...)

	byMetric := NewThrottle(ThrottleConfig{Period: time.Hour})
	decisions := byMetric.Evaluate(mixed, now)
	if len(decisions) != 2 || decisions[0].Key.Metric != "response_time" || len(decisions[0].Events) != 2 {
		t.Fatalf("expected metric grouping in first-seen order, got %+v", decisions)
	}

	bySource := NewThrottle(ThrottleConfig{Period: time.Hour, Scope: ScopeMetricSource})
	decisions = bySource.Evaluate(mixed, now)
	if len(decisions) != 3 {
		t.Fatalf("expected 3 keys with source scope, got %d", len(decisions))
	}
	for _, d := range decisions {
		if !d.Emitted() {
			t.Fatalf("expected every source-scoped key to emit, got %+v", d)
		}
	}
	if decisions[2].Key.String() != "response_time@b.log" {
		t.Fatalf("unexpected key %s", decisions[2].Key)
	}
}

func TestResetClearsWatermarks(t *testing.T) {
	th := NewThrottle(DefaultThrottleConfig())
	th.Evaluate(events("response_time", "", 1), now)
	th.Reset()
	if d := th.Evaluate(events("response_time", "", 1), now.Add(time.Second)); !d[0].Emitted() {
		t.Fatalf("expected emission after reset")
	}
}

func TestConcurrentEvaluateEmitsOnce(t *testing.T) {
	th := NewThrottle(ThrottleConfig{Period: time.Hour})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		emitted int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, d := range th.Evaluate(events("response_time", "x", 1), now) {
				if d.Emitted() {
					mu.Lock()
					emitted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if emitted != 1 {
		t.Fatalf("expected exactly one emission, got %d", emitted)
	}
}

func TestEvaluateEmpty(t *testing.T) {
	if got := NewThrottle(DefaultThrottleConfig()).Evaluate(nil, now); len(got) != 0 {
		t.Fatalf("expected no decisions, got %v", got)
	}
}
