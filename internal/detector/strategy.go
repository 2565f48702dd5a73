package detector

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// Strategy names accepted by New.
const (
	MethodZScore  = "zscore"
	MethodIQR     = "iqr"
	MethodRolling = "rolling"
)

// Outlier is a flagged position in the scored window.
type Outlier struct {
	Index     int
	Score     float64
	Reference float64
}

// Strategy scores window against reference statistics computed over
// baseline followed by window. Only window positions are ever returned.
type Strategy interface {
	Name() string
	Outliers(window, baseline []float64) []Outlier
}

// Params tunes every strategy; each uses the fields it needs.
type Params struct {
	ZScoreThreshold   float64
	IQRMultiplier     float64
	MinDataPoints     int
	RollingWindow     int
	RollingMinPeriods int
}

// DefaultParams returns the shipped tuning.
func DefaultParams() Params {
	return Params{
		ZScoreThreshold:   3.0,
		IQRMultiplier:     1.5,
		MinDataPoints:     10,
		RollingWindow:     5,
		RollingMinPeriods: 3,
	}
}

// New selects a strategy by name.
func New(method string, p Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case MethodZScore, "z-score", "":
		return &ZScore{Threshold: p.ZScoreThreshold, MinPoints: p.MinDataPoints}, nil
	case MethodIQR:
		return &IQR{Multiplier: p.IQRMultiplier, MinPoints: p.MinDataPoints}, nil
	case MethodRolling:
		return &Rolling{Threshold: p.ZScoreThreshold, MinPoints: p.MinDataPoints, Window: p.RollingWindow, MinPeriods: p.RollingMinPeriods}, nil
	default:
		return nil, fmt.Errorf("unknown anomaly detection method %q", method)
	}
}

// flat reports a spread too small to divide by, including rounding residue
// from summing a constant series.
func flat(mean, std float64) bool {
	return math.IsNaN(std) || std <= 1e-12*math.Max(1, math.Abs(mean))
}

func reference(window, baseline []float64) []float64 {
	out := make([]float64, 0, len(baseline)+len(window))
	out = append(out, baseline...)
	return append(out, window...)
}

// ZScore flags points whose distance from the population mean exceeds
// Threshold standard deviations.
type ZScore struct {
	Threshold float64
	MinPoints int
}

func (z *ZScore) Name() string { return MethodZScore }

// Outliers returns nothing when the reference has fewer than MinPoints values
// or zero variance.
func (z *ZScore) Outliers(window, baseline []float64) []Outlier {
	ref := reference(window, baseline)
	if len(window) == 0 || len(ref) < z.MinPoints {
		return nil
	}
	mean, std := stat.PopMeanStdDev(ref, nil)
	if flat(mean, std) {
		return nil
	}
	out := make([]Outlier, 0)
	for i, x := range window {
		score := math.Abs(x-mean) / std
		if score > z.Threshold {
			out = append(out, Outlier{Index: i, Score: score, Reference: mean})
		}
	}
	return out
}

// IQR flags points outside [Q1 - k*IQR, Q3 + k*IQR].
type IQR struct {
	Multiplier float64
	MinPoints  int
}

func (q *IQR) Name() string { return MethodIQR }

// Outliers scores a flagged point by its distance from the median in IQR
// units, or in standard deviations when the IQR collapses to zero.
func (q *IQR) Outliers(window, baseline []float64) []Outlier {
	ref := reference(window, baseline)
	if len(window) == 0 || len(ref) < q.MinPoints {
		return nil
	}
	k := q.Multiplier
	if k <= 0 {
		k = 1.5
	}
	sorted := utils.Sorted(ref)
	q1, q3 := utils.Quantile(sorted, 0.25), utils.Quantile(sorted, 0.75)
	median := utils.Quantile(sorted, 0.5)
	iqr := q3 - q1
	lower, upper := q1-k*iqr, q3+k*iqr

	scale := iqr
	if scale == 0 {
		var mean float64
		mean, scale = stat.PopMeanStdDev(ref, nil)
		if flat(mean, scale) {
			return nil
		}
	}

	out := make([]Outlier, 0)
	for i, x := range window {
		if x < lower || x > upper {
			out = append(out, Outlier{Index: i, Score: math.Abs(x-median) / scale, Reference: median})
		}
	}
	return out
}

// Rolling compares each point with the mean and sample standard deviation of
// the Window values preceding it. Positions with fewer than MinPeriods
// preceding values fall back to whole-series statistics.
type Rolling struct {
	Threshold  float64
	MinPoints  int
	Window     int
	MinPeriods int
}

func (r *Rolling) Name() string { return MethodRolling }

func (r *Rolling) Outliers(window, baseline []float64) []Outlier {
	ref := reference(window, baseline)
	if len(window) == 0 || len(ref) < r.MinPoints || len(ref) < 2 {
		return nil
	}
	size, minPeriods := r.Window, r.MinPeriods
	if size <= 0 {
		size = 5
	}
	if minPeriods <= 0 || minPeriods > size {
		minPeriods = size
	}
	globalMean, globalStd := stat.MeanStdDev(ref, nil)

	offset := len(baseline)
	out := make([]Outlier, 0)
	for i, x := range window {
		pos := offset + i
		start := pos - size
		if start < 0 {
			start = 0
		}
		mean, std := globalMean, globalStd
		if trail := ref[start:pos]; len(trail) >= minPeriods {
			mean, std = stat.MeanStdDev(trail, nil)
			if flat(mean, std) {
				// A flat history would flag any change at all.
				std = globalStd
			}
		}
		if flat(mean, std) {
			continue
		}
		score := math.Abs(x-mean) / std
		if score > r.Threshold {
			out = append(out, Outlier{Index: i, Score: score, Reference: mean})
		}
	}
	return out
}
