package analyzers

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// DefaultTrafficInterval is the bucket width when none is configured.
const DefaultTrafficInterval = 5 * time.Minute

// maxTrafficBuckets caps the dense bucket count. Batches spanning more
// intervals than this keep only their non-empty buckets.
const maxTrafficBuckets = 100000

// Traffic counts access records into fixed interval buckets, including empty
// buckets between the first and last record, and marks buckets whose request
// count exceeds the 95th percentile as peaks. When the span is too wide for
// dense buckets the result is Sparse and holds only buckets that saw traffic.
func Traffic(batch models.Batch, interval time.Duration) models.Traffic {
	if interval <= 0 {
		interval = DefaultTrafficInterval
	}
	out := models.Traffic{Interval: interval, Buckets: make([]models.TrafficBucket, 0), Peaks: make([]int, 0)}

	records := batch.Access()
	if len(records) == 0 {
		return out
	}
	first, last := records[0].Timestamp, records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.Before(first) {
			first = r.Timestamp
		}
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	start := utils.TruncateTo(first, interval)
	span := utils.TruncateTo(last, interval).Sub(start) / interval
	if span < maxTrafficBuckets {
		out.Buckets = denseBuckets(records, start, interval, int(span)+1)
	} else {
		out.Buckets = sparseBuckets(records, interval)
		out.Sparse = true
	}

	counts := make([]float64, len(out.Buckets))
	for i := range out.Buckets {
		b := &out.Buckets[i]
		if b.Requests > 0 {
			b.ErrorRate = float64(b.Errors) / float64(b.Requests)
		}
		counts[i] = float64(b.Requests)
	}
	threshold := utils.Quantile(utils.Sorted(counts), 0.95)
	for i, c := range counts {
		if c > threshold {
			out.Peaks = append(out.Peaks, i)
		}
	}
	return out
}

func denseBuckets(records []models.Record, start time.Time, interval time.Duration, n int) []models.TrafficBucket {
	buckets := make([]models.TrafficBucket, n)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * interval)
	}
	for _, r := range records {
		b := &buckets[int(r.Timestamp.Sub(start)/interval)]
		b.Requests++
		if r.IsError() {
			b.Errors++
		}
	}
	return buckets
}

func sparseBuckets(records []models.Record, interval time.Duration) []models.TrafficBucket {
	index := make(map[time.Time]int)
	buckets := make([]models.TrafficBucket, 0)
	for _, r := range records {
		key := utils.TruncateTo(r.Timestamp, interval).UTC()
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, models.TrafficBucket{Start: key})
		}
		buckets[i].Requests++
		if r.IsError() {
			buckets[i].Errors++
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Start.Before(buckets[j].Start) })
	return buckets
}

// RequestSeries returns per-bucket request counts.
func RequestSeries(t models.Traffic) []float64 {
	out := make([]float64, len(t.Buckets))
	for i, b := range t.Buckets {
		out[i] = float64(b.Requests)
	}
	return out
}

// ErrorRateSeries returns per-bucket error rates for buckets that saw traffic.
func ErrorRateSeries(t models.Traffic) ([]float64, []time.Time) {
	values := make([]float64, 0, len(t.Buckets))
	stamps := make([]time.Time, 0, len(t.Buckets))
	for _, b := range t.Buckets {
		if b.Requests == 0 {
			continue
		}
		values = append(values, b.ErrorRate)
		stamps = append(stamps, b.Start)
	}
	return values, stamps
}
