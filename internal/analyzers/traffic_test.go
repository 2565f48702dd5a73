package analyzers

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

func TestTrafficBucketsIncludeGaps(t *testing.T) {
	records := []models.Record{
		access("10.0.0.1", "GET", "/", 200, -1, 0),
		access("10.0.0.1", "GET", "/", 500, -1, time.Minute),
		access("10.0.0.1", "GET", "/", 200, -1, 11*time.Minute),
	}
	traffic := Traffic(models.Batch{Records: records}, 5*time.Minute)
	if len(traffic.Buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(traffic.Buckets))
	}
	if traffic.Buckets[0].Requests != 2 || traffic.Buckets[0].ErrorRate != 0.5 {
		t.Fatalf("unexpected first bucket %+v", traffic.Buckets[0])
	}
	if traffic.Buckets[1].Requests != 0 || !traffic.Buckets[1].Start.Equal(base.Add(5*time.Minute)) {
		t.Fatalf("expected empty gap bucket, got %+v", traffic.Buckets[1])
	}

	rates, stamps := ErrorRateSeries(traffic)
	if len(rates) != 2 || len(stamps) != 2 {
		t.Fatalf("error rate series must skip empty buckets")
	}
	if got := RequestSeries(traffic); len(got) != 3 || got[2] != 1 {
		t.Fatalf("unexpected request series %v", got)
	}
}

func TestTrafficPeaks(t *testing.T) {
	records := make([]models.Record, 0)
	for minute := 0; minute < 20; minute++ {
		n := 1
		if minute == 7 {
			n = 30
		}
		for i := 0; i < n; i++ {
			records = append(records, access("10.0.0.1", "GET", "/", 200, -1, time.Duration(minute)*time.Minute))
		}
	}
	traffic := Traffic(models.Batch{Records: records}, time.Minute)
	if len(traffic.Peaks) != 1 || traffic.Peaks[0] != 7 {
		t.Fatalf("expected peak at bucket 7, got %v", traffic.Peaks)
	}
}

func TestTrafficEmpty(t *testing.T) {
	traffic := Traffic(models.Batch{}, 0)
	if traffic.Interval != DefaultTrafficInterval || len(traffic.Buckets) != 0 {
		t.Fatalf("unexpected empty traffic %+v", traffic)
	}
}

func TestTrafficWideSpanKeepsRecordsInTheirOwnBuckets(t *testing.T) {
	stray := access("10.0.0.9", "GET", "/", 200, -1, 0)
	stray.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []models.Record{stray}
	for i := 0; i < 10; i++ {
		records = append(records, access("10.0.0.1", "GET", "/", 200, -1, time.Duration(i)*time.Second))
	}

	traffic := Traffic(models.Batch{Records: records}, 5*time.Minute)
	if !traffic.Sparse {
		t.Fatalf("expected a sparse profile for a 24 year span")
	}
	if len(traffic.Buckets) != 2 {
		t.Fatalf("expected only the two occupied buckets, got %d", len(traffic.Buckets))
	}
	if b := traffic.Buckets[0]; !b.Start.Equal(stray.Timestamp) || b.Requests != 1 {
		t.Fatalf("unexpected 1999 bucket %+v", b)
	}
	if b := traffic.Buckets[1]; !b.Start.Equal(base) || b.Requests != 10 {
		t.Fatalf("expected the 2023 records in their own bucket, got %+v", b)
	}
}
