package detector

import (
	"math/rand"
	"testing"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

func series(metric string, values ...float64) Series {
	start := time.Date(2023, 10, 10, 13, 0, 0, 0, time.UTC)
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Time: start.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return Series{Metric: metric, Source: "access.log", Points: points}
}

func TestZScoreFlagsOnlyTheSpike(t *testing.T) {
	params := DefaultParams()
	params.ZScoreThreshold = 2.0
	d, err := NewDetector(Config{Method: MethodZScore, Params: params})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}

	events := d.Detect(series("response_time", 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 5.0))
	if len(events) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(events))
	}
	ev := events[0]
	if ev.Index != 9 || ev.Observed != 5.0 || ev.Method != MethodZScore {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Score < 2.99 || ev.Score > 3.01 {
		t.Fatalf("expected population z-score of 3, got %v", ev.Score)
	}
	if ev.Severity == models.SeverityLow || ev.Source != "access.log" {
		t.Fatalf("unexpected severity/source %s %s", ev.Severity, ev.Source)
	}
}

func TestZScoreDegenerateInputs(t *testing.T) {
	z := &ZScore{Threshold: 0.1, MinPoints: 10}
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 100; trial++ {
		n := rng.Intn(10)
		values := make([]float64, n)
		for i := range values {
			values[i] = rng.NormFloat64() * 1000
		}
		if got := z.Outliers(values, nil); len(got) != 0 {
			t.Fatalf("expected no outliers for %d points, got %v", n, got)
		}
	}
	for trial := 0; trial < 20; trial++ {
		c := rng.Float64()
		values := make([]float64, 10+rng.Intn(50))
		for i := range values {
			values[i] = c
		}
		if got := z.Outliers(values, nil); len(got) != 0 {
			t.Fatalf("expected no outliers for constant series, got %v", got)
		}
	}
}

func TestBaselineIsNeverFlagged(t *testing.T) {
	z := &ZScore{Threshold: 2, MinPoints: 5}
	baseline := []float64{100, 1, 1, 1, 1, 1, 1, 1}
	out := z.Outliers([]float64{1, 1, 1}, baseline)
	if len(out) != 0 {
		t.Fatalf("baseline outlier leaked into results: %v", out)
	}
	out = z.Outliers([]float64{1, 40}, []float64{1, 1, 1, 1, 1, 1, 1, 1})
	if len(out) != 1 || out[0].Index != 1 {
		t.Fatalf("expected window index 1, got %v", out)
	}
}

func TestIQRWithCollapsedQuartiles(t *testing.T) {
	q := &IQR{Multiplier: 1.5, MinPoints: 10}
	out := q.Outliers([]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0.5}, nil)
	if len(out) != 1 || out[0].Index != 9 || out[0].Reference != 0 {
		t.Fatalf("expected spike at 9, got %v", out)
	}
	if got := q.Outliers([]float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, nil); len(got) != 0 {
		t.Fatalf("constant series must yield nothing, got %v", got)
	}
	if got := q.Outliers([]float64{0, 1}, nil); len(got) != 0 {
		t.Fatalf("below min points must yield nothing, got %v", got)
	}
}

func TestIQRFences(t *testing.T) {
	q := &IQR{Multiplier: 1.5, MinPoints: 5}
	// Q1=3, Q3=9, IQR=6: fences at -6 and 18.
	out := q.Outliers([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 30, -20}, nil)
	if len(out) != 2 || out[0].Index != 11 || out[1].Index != 12 {
		t.Fatalf("expected indexes 11 and 12, got %v", out)
	}
}

func TestRollingFlagsTrafficBurst(t *testing.T) {
	r := &Rolling{Threshold: 3, MinPoints: 10, Window: 5, MinPeriods: 3}
	out := r.Outliers([]float64{10, 11, 9, 10, 11, 10, 9, 10, 50, 10}, nil)
	if len(out) != 1 || out[0].Index != 8 {
		t.Fatalf("expected burst at 8, got %v", out)
	}
}

func TestNewAndOverrides(t *testing.T) {
	if _, err := New("lstm", DefaultParams()); err == nil {
		t.Fatalf("expected unknown method error")
	}
	if _, err := NewDetector(Config{Method: "zscore", Methods: map[string]string{"error_rate": "prophet"}, Params: DefaultParams()}); err == nil {
		t.Fatalf("expected unknown per-metric method error")
	}
	d, err := NewDetector(Config{Methods: map[string]string{"error_rate": "iqr", "request_rate": "rolling"}, Params: DefaultParams()})
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	if d.StrategyFor("error_rate").Name() != MethodIQR || d.StrategyFor("request_rate").Name() != MethodRolling {
		t.Fatalf("per-metric overrides not applied")
	}
	if d.StrategyFor("response_time").Name() != MethodZScore {
		t.Fatalf("expected z-score default")
	}
}
