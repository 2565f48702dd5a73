package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

var stamp = time.Date(2023, 10, 10, 13, 55, 36, 0, time.UTC)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "logscope.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport() (models.Batch, models.FileReport) {
	batch := models.Batch{Source: "access.log", Records: []models.Record{
		{Kind: models.KindAccess, IPAddress: "10.0.0.1", Timestamp: stamp, Method: "GET", Endpoint: "/", Status: 200, ResponseTime: 0.2, HasResponseTime: true},
		{Kind: models.KindAccess, IPAddress: "10.0.0.2", Timestamp: stamp, Method: "GET", Endpoint: "/wp-admin", Status: 404},
		{Kind: models.KindError, Timestamp: stamp, Level: "error", Message: "File does not exist"},
	}}
	report := models.FileReport{
		File:    "access.log",
		Pattern: "apache/combined",
		Parse:   models.ParseStats{Total: 3, Parsed: 3},
		Metrics: models.MetricSet{TotalRecords: 2, ErrorRate: models.Of(0.5)},
		Security: models.SecurityReport{Findings: []models.ThreatFinding{
			{Source: "10.0.0.2", Category: models.CategoryReconnaissance, Signature: "admin-panels", Severity: 5, RecordIndex: 1, Timestamp: stamp},
		}},
		Anomalies: []models.AnomalyEvent{{Metric: "response_time", Source: "access.log", Method: "zscore", Score: 3.2, Severity: models.SeverityHigh, Timestamp: stamp}},
		Decisions: []models.AlertDecision{{
			ID: "alert-1", Outcome: models.OutcomeEmitted, Reason: models.ReasonEmitted, Key: models.AlertKey{Metric: "response_time"},
			Events: []models.AnomalyEvent{{Metric: "response_time", Severity: models.SeverityHigh}}, DecidedAt: stamp,
		}},
	}
	return batch, report
}

func count(t *testing.T, store *SQLiteStore, table string) int {
	t.Helper()
	var n int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestSaveFilePersistsEverything(t *testing.T) {
	store := openStore(t)
	batch, report := sampleReport()

	if err := store.SaveFile(context.Background(), "run-1", batch, report, nil); err != nil {
		t.Fatalf("save file: %v", err)
	}
	want := map[string]int{
		"files": 1, "access_logs": 2, "error_logs": 1, "security_events": 1, "anomalies": 1, "alerts": 1,
		// total_records and error_rate only; response time stats are absent.
		"performance_metrics": 2,
	}
	for table, n := range want {
		if got := count(t, store, table); got != n {
			t.Fatalf("expected %d rows in %s, got %d", n, table, got)
		}
	}

	var nulls int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM access_logs WHERE response_time IS NULL").Scan(&nulls); err != nil {
		t.Fatalf("query: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("missing response times must be stored as NULL, got %d", nulls)
	}

	alerts, err := store.RecentAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Key != "response_time" || alerts[0].Severity != "high" || !alerts[0].DecidedAt.Equal(stamp) {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestSaveFileRollsBackOnFailure(t *testing.T) {
	store := openStore(t)
	batch, report := sampleReport()
	if err := store.SaveFile(context.Background(), "run-1", batch, report, nil); err != nil {
		t.Fatalf("save file: %v", err)
	}
	// The same alert id violates the primary key on the second save.
	if err := store.SaveFile(context.Background(), "run-2", batch, report, nil); err == nil {
		t.Fatalf("expected duplicate alert id to fail")
	}
	if got := count(t, store, "files"); got != 1 {
		t.Fatalf("failed save must not leave a file row, got %d", got)
	}
}

func TestBaselineReturnsRecentValuesOldestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	samples := make([]models.MetricSample, 0, 5)
	for i := 1; i <= 5; i++ {
		samples = append(samples, models.MetricSample{Metric: "response_time", Source: "a.log", Time: stamp, Value: float64(i)})
	}
	samples = append(samples, models.MetricSample{Metric: "response_time", Source: "b.log", Value: 99})
	if err := store.SaveFile(ctx, "run-1", models.Batch{}, models.FileReport{File: "a.log", Metrics: models.MetricSet{NoData: true}}, samples); err != nil {
		t.Fatalf("save samples: %v", err)
	}

	got, err := store.Baseline(ctx, "response_time", "a.log", 3)
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("expected [3 4 5], got %v", got)
	}
	if got, _ := store.Baseline(ctx, "response_time", "a.log", 0); got != nil {
		t.Fatalf("zero limit should disable baselines, got %v", got)
	}
}

func TestFileOffsetsUpsert(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if off, err := store.Offset(ctx, "a.log"); err != nil || off != 0 {
		t.Fatalf("expected zero offset for an unread file, got %d %v", off, err)
	}
	for _, want := range []int64{120, 480} {
		if err := store.SetOffset(ctx, "a.log", want); err != nil {
			t.Fatalf("set offset: %v", err)
		}
		if off, err := store.Offset(ctx, "a.log"); err != nil || off != want {
			t.Fatalf("expected %d, got %d %v", want, off, err)
		}
	}
	if got := count(t, store, "file_offsets"); got != 1 {
		t.Fatalf("expected one offset row, got %d", got)
	}
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3ArchiverUploadsGzippedReport(t *testing.T) {
	putter := &fakePutter{}
	archiver := newS3Archiver(putter, S3Config{Bucket: "logs", Prefix: "/logscope/"}, nil, nil)
	report := models.RunReport{RunID: "run-1", StartedAt: stamp}

	if err := archiver.Archive(context.Background(), report); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if *putter.input.Bucket != "logs" || *putter.input.Key != "logscope/2023/10/10/run-1.json.gz" {
		t.Fatalf("unexpected destination %s/%s", *putter.input.Bucket, *putter.input.Key)
	}

	gz, err := gzip.NewReader(bytes.NewReader(putter.body))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	var decoded models.RunReport
	if err := json.NewDecoder(gz).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RunID != "run-1" {
		t.Fatalf("unexpected archived report %+v", decoded)
	}

	putter.err = errors.New("access denied")
	if err := archiver.Archive(context.Background(), report); err == nil {
		t.Fatalf("expected upload error")
	}
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	if got := ObjectKey("", models.RunReport{RunID: "r", StartedAt: stamp}); got != "2023/10/10/r.json.gz" {
		t.Fatalf("unexpected key %s", got)
	}
}
