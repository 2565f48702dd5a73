package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/miradorstack/mirador-logscope/internal/models"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		pattern TEXT,
		total_lines INTEGER,
		parsed INTEGER,
		failed INTEGER,
		blank INTEGER,
		warnings TEXT,
		duration_ms INTEGER,
		analyzed_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id),
		ip_address TEXT,
		remote_user TEXT,
		timestamp TEXT,
		method TEXT,
		endpoint TEXT,
		protocol TEXT,
		status INTEGER,
		bytes_sent INTEGER,
		response_time REAL,
		referer TEXT,
		user_agent TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS error_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id),
		timestamp TEXT,
		level TEXT,
		module TEXT,
		pid TEXT,
		ip_address TEXT,
		message TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS performance_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id),
		name TEXT NOT NULL,
		value REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS security_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id),
		source TEXT,
		category TEXT,
		signature TEXT,
		severity REAL,
		timestamp TEXT,
		endpoint TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS anomalies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id INTEGER NOT NULL REFERENCES files(id),
		metric TEXT NOT NULL,
		source TEXT,
		method TEXT,
		position INTEGER,
		timestamp TEXT,
		observed REAL,
		baseline REAL,
		score REAL,
		severity TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		file_id INTEGER NOT NULL REFERENCES files(id),
		alert_key TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		window_id TEXT,
		event_count INTEGER,
		severity TEXT,
		recommendations TEXT,
		decided_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metric_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		metric TEXT NOT NULL,
		source TEXT NOT NULL,
		timestamp TEXT,
		value REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS file_offsets (
		path TEXT PRIMARY KEY,
		byte_offset INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metric_samples_lookup ON metric_samples(metric, source, id)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_decided ON alerts(decided_at)`,
}

// SQLiteStore persists file reports and serves baselines from earlier runs.
type SQLiteStore struct {
	logger *slog.Logger
	db     *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; workers queue on the single connection.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	logger.Info("database connected", slog.String("driver", "sqlite3"), slog.String("path", path))
	return &SQLiteStore{logger: logger, db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveFile writes one analysed file in a single transaction.
func (s *SQLiteStore) SaveFile(ctx context.Context, runID string, batch models.Batch, report models.FileReport, samples []models.MetricSample) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO files (run_id, path, pattern, total_lines, parsed, failed, blank, warnings, duration_ms, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, report.File, report.Pattern, report.Parse.Total, report.Parse.Parsed, report.Parse.Failed,
		report.Parse.Blank, strings.Join(report.Warnings, "\n"), report.Duration.Milliseconds(), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("file id: %w", err)
	}

	if err = insertRecords(ctx, tx, fileID, batch); err != nil {
		return err
	}
	if err = insertMetrics(ctx, tx, fileID, report.Metrics); err != nil {
		return err
	}
	if err = insertFindings(ctx, tx, fileID, report.Security.Findings); err != nil {
		return err
	}
	if err = insertAnomalies(ctx, tx, fileID, report.Anomalies); err != nil {
		return err
	}
	if err = insertDecisions(ctx, tx, fileID, report.Decisions); err != nil {
		return err
	}
	if err = insertSamples(ctx, tx, samples); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("file report stored", slog.String("file", report.File), slog.Int64("file_id", fileID), slog.Int("records", batch.Len()))
	return nil
}

func insertRecords(ctx context.Context, tx *sql.Tx, fileID int64, batch models.Batch) error {
	accessStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO access_logs (file_id, ip_address, remote_user, timestamp, method, endpoint, protocol, status, bytes_sent, response_time, referer, user_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare access insert: %w", err)
	}
	defer accessStmt.Close()

	errorStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO error_logs (file_id, timestamp, level, module, pid, ip_address, message) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare error insert: %w", err)
	}
	defer errorStmt.Close()

	for _, r := range batch.Records {
		switch r.Kind {
		case models.KindAccess:
			var rt sql.NullFloat64
			if r.HasResponseTime {
				rt = sql.NullFloat64{Float64: r.ResponseTime, Valid: true}
			}
			if _, err := accessStmt.ExecContext(ctx, fileID, r.IPAddress, r.RemoteUser, formatTime(r.Timestamp), r.Method,
				r.Endpoint, r.Protocol, r.Status, r.BytesSent, rt, r.Referer, r.UserAgent); err != nil {
				return fmt.Errorf("insert access record: %w", err)
			}
		case models.KindError:
			if _, err := errorStmt.ExecContext(ctx, fileID, formatTime(r.Timestamp), r.Level, r.Module, r.PID, r.IPAddress, r.Message); err != nil {
				return fmt.Errorf("insert error record: %w", err)
			}
		}
	}
	return nil
}

func insertMetrics(ctx context.Context, tx *sql.Tx, fileID int64, set models.MetricSet) error {
	for _, name := range models.MetricNames() {
		v, err := set.Lookup(name)
		if errors.Is(err, models.ErrNoData) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO performance_metrics (file_id, name, value) VALUES (?, ?, ?)`, fileID, name, v); err != nil {
			return fmt.Errorf("insert metric %s: %w", name, err)
		}
	}
	return nil
}

func insertFindings(ctx context.Context, tx *sql.Tx, fileID int64, findings []models.ThreatFinding) error {
	for _, f := range findings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO security_events (file_id, source, category, signature, severity, timestamp, endpoint, description)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, f.Source, string(f.Category), f.Signature, f.Severity, formatTime(f.Timestamp), f.Endpoint, f.Description); err != nil {
			return fmt.Errorf("insert security event: %w", err)
		}
	}
	return nil
}

func insertAnomalies(ctx context.Context, tx *sql.Tx, fileID int64, events []models.AnomalyEvent) error {
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO anomalies (file_id, metric, source, method, position, timestamp, observed, baseline, score, severity)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, ev.Metric, ev.Source, ev.Method, ev.Index, formatTime(ev.Timestamp), ev.Observed, ev.Baseline, ev.Score, string(ev.Severity)); err != nil {
			return fmt.Errorf("insert anomaly: %w", err)
		}
	}
	return nil
}

func insertDecisions(ctx context.Context, tx *sql.Tx, fileID int64, decisions []models.AlertDecision) error {
	for _, d := range decisions {
		recs, err := json.Marshal(d.Recommendations)
		if err != nil {
			return fmt.Errorf("encode recommendations: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alerts (id, file_id, alert_key, outcome, reason, window_id, event_count, severity, recommendations, decided_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, fileID, d.Key.String(), string(d.Outcome), d.Reason, d.WindowID, len(d.Events), string(d.MaxSeverity()), string(recs), formatTime(d.DecidedAt)); err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
	}
	return nil
}

func insertSamples(ctx context.Context, tx *sql.Tx, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_samples (metric, source, timestamp, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()
	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, sm.Metric, sm.Source, formatTime(sm.Time), sm.Value); err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
	}
	return nil
}

// Baseline returns up to limit of the most recent stored values for metric
// and source, oldest first.
func (s *SQLiteStore) Baseline(ctx context.Context, metric, source string, limit int) ([]float64, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM metric_samples WHERE metric = ? AND source = ? ORDER BY id DESC LIMIT ?`,
		metric, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query baseline: %w", err)
	}
	defer rows.Close()

	values := make([]float64, 0, limit)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	return values, nil
}

// Offset returns how far path has been read, zero if it never was.
func (s *SQLiteStore) Offset(ctx context.Context, path string) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx, `SELECT byte_offset FROM file_offsets WHERE path = ?`, path).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query offset: %w", err)
	}
	return offset, nil
}

// SetOffset records how far path has been read.
func (s *SQLiteStore) SetOffset(ctx context.Context, path string, offset int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_offsets (path, byte_offset, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET byte_offset = excluded.byte_offset, updated_at = excluded.updated_at`,
		path, offset, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("store offset: %w", err)
	}
	return nil
}

// AlertRow is a stored alert decision.
type AlertRow struct {
	ID        string
	Key       string
	Outcome   string
	Reason    string
	Severity  string
	Events    int
	DecidedAt time.Time
}

// RecentAlerts returns the latest decisions, newest first.
func (s *SQLiteStore) RecentAlerts(ctx context.Context, limit int) ([]AlertRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_key, outcome, reason, severity, event_count, decided_at FROM alerts ORDER BY decided_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := make([]AlertRow, 0)
	for rows.Next() {
		var (
			row     AlertRow
			decided string
		)
		if err := rows.Scan(&row.ID, &row.Key, &row.Outcome, &row.Reason, &row.Severity, &row.Events, &decided); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		row.DecidedAt, _ = time.Parse(time.RFC3339Nano, decided)
		out = append(out, row)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
