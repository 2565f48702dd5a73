package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-logscope/internal/alerting"
	"github.com/miradorstack/mirador-logscope/internal/analyzers"
	"github.com/miradorstack/mirador-logscope/internal/detector"
	"github.com/miradorstack/mirador-logscope/internal/models"
)

// Config captures every setting of the analyze and monitor commands.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Logs        LogsConfig        `yaml:"logs"`
	Patterns    PatternsConfig    `yaml:"patterns"`
	Performance PerformanceConfig `yaml:"performance_thresholds"`
	Anomaly     AnomalyConfig     `yaml:"anomaly_detection"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Security    SecurityConfig    `yaml:"security"`
	Rules       RulesConfig       `yaml:"rules"`
	Database    DatabaseConfig    `yaml:"database"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Notifiers   NotifiersConfig   `yaml:"notifiers"`
	Monitor     MonitorConfig     `yaml:"monitor"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error critical"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// ServerConfig controls the gRPC health listener and metrics endpoint used by monitor.
type ServerConfig struct {
	Address         string        `yaml:"address" validate:"required"`
	MetricsAddress  string        `yaml:"metrics_address"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout" validate:"gte=0"`
}

// LogsConfig selects input files and how they are parsed.
type LogsConfig struct {
	Directory    string `yaml:"directory" validate:"required"`
	Glob         string `yaml:"glob" validate:"required"`
	Recursive    bool   `yaml:"recursive"`
	Family       string `yaml:"family" validate:"required"`
	Variant      string `yaml:"variant"`
	Timezone     string `yaml:"timezone"`
	Workers      int    `yaml:"workers" validate:"min=1,max=64"`
	MaxLineBytes int    `yaml:"max_line_bytes" validate:"min=256"`
}

// PatternsConfig points at an optional pattern file replacing the built-ins.
type PatternsConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// PerformanceConfig holds the performance analyzer thresholds.
type PerformanceConfig struct {
	SlowEndpointAvg     float64 `yaml:"slow_endpoint_avg" validate:"gt=0"`
	SlowEndpointP95     float64 `yaml:"slow_endpoint_p95" validate:"gt=0"`
	HighErrorRate       float64 `yaml:"high_error_rate" validate:"gt=0,lte=1"`
	MinEndpointRequests int     `yaml:"min_endpoint_requests" validate:"min=1"`
}

// AnomalyConfig tunes the detector. WindowSize is the traffic bucket width.
type AnomalyConfig struct {
	Method            string            `yaml:"method" validate:"oneof=zscore z-score iqr rolling"`
	Methods           map[string]string `yaml:"methods" validate:"dive,oneof=zscore z-score iqr rolling"`
	WindowSize        time.Duration     `yaml:"window_size" validate:"gt=0"`
	ZScoreThreshold   float64           `yaml:"z_score_threshold" validate:"gt=0"`
	IQRMultiplier     float64           `yaml:"iqr_multiplier" validate:"gt=0"`
	MinDataPoints     int               `yaml:"min_data_points" validate:"min=2"`
	RollingWindow     int               `yaml:"rolling_window" validate:"min=2"`
	RollingMinPeriods int               `yaml:"rolling_min_periods" validate:"min=1"`
	BaselinePoints    int               `yaml:"baseline_points" validate:"min=0"`
}

// AlertingConfig configures the throttle.
type AlertingConfig struct {
	MinAnomalies   int           `yaml:"min_anomalies_for_alert" validate:"min=1"`
	ThrottlePeriod time.Duration `yaml:"throttle_period" validate:"gte=0"`
	ThrottleScope  string        `yaml:"throttle_scope" validate:"oneof=metric metric_source"`
}

// SignatureConfig is a user-supplied signature.
type SignatureConfig struct {
	Name       string `yaml:"name" validate:"required"`
	Pattern    string `yaml:"pattern" validate:"required"`
	Category   string `yaml:"category" validate:"omitempty,oneof=injection traversal xss reconnaissance brute_force suspicious_source unusual_method"`
	IgnoreCase bool   `yaml:"ignore_case"`
}

// SecurityConfig extends or replaces the built-in security rules. Empty
// signature lists keep the defaults.
type SecurityConfig struct {
	SuspiciousIPs       []string           `yaml:"suspicious_ips"`
	SuspiciousIPsFile   string             `yaml:"suspicious_ips_file"`
	AttackSignatures    []SignatureConfig  `yaml:"attack_signatures" validate:"dive"`
	ScanSignatures      []SignatureConfig  `yaml:"scan_signatures" validate:"dive"`
	UnusualMethods      []string           `yaml:"unusual_methods"`
	BruteForceThreshold int                `yaml:"brute_force_threshold" validate:"min=1"`
	BruteForceWindow    time.Duration      `yaml:"brute_force_window" validate:"gt=0"`
	BruteForceStatuses  []int              `yaml:"brute_force_statuses"`
	BruteForceEndpoints []string           `yaml:"brute_force_endpoints"`
	Weights             map[string]float64 `yaml:"weights" validate:"dive,keys,oneof=injection traversal xss reconnaissance brute_force suspicious_source unusual_method,endkeys,gte=0"`
}

// RulesConfig controls rule-pack loading for the recommender.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// ArchiveConfig configures S3 archiving of run reports.
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// NotifiersConfig lists alert sinks.
type NotifiersConfig struct {
	Log bool      `yaml:"log"`
	HEC HECConfig `yaml:"hec"`
}

// HECConfig configures the Splunk HTTP Event Collector notifier.
type HECConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Endpoint      string        `yaml:"endpoint" validate:"required_if=Enabled true"`
	Token         string        `yaml:"token" validate:"required_if=Enabled true"`
	ChannelID     string        `yaml:"channel_id"`
	Index         string        `yaml:"index"`
	Source        string        `yaml:"source"`
	SourceType    string        `yaml:"source_type"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	Timeout       time.Duration `yaml:"timeout"`
}

// MonitorConfig controls the re-scan loop.
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	SeenTTL     time.Duration `yaml:"seen_ttl" validate:"gt=0"`
	CacheSizeMB int           `yaml:"cache_size_mb" validate:"min=0"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_LOGSCOPE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// durationKeys are the duration fields that also accept a bare number of seconds.
var durationKeys = map[string]bool{
	"graceful_timeout":   true,
	"window_size":        true,
	"throttle_period":    true,
	"brute_force_window": true,
	"timeout":            true,
	"interval":           true,
	"seen_ttl":           true,
}

func decode(data []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		return nil
	}
	secondsToDurations(&doc)
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// secondsToDurations rewrites numeric values of duration keys, such as
// "throttle_period: 3600", into duration strings.
func secondsToDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if durationKeys[key.Value] && value.Kind == yaml.ScalarNode && (value.Tag == "!!int" || value.Tag == "!!float") {
				value.Value += "s"
				value.Tag = "!!str"
				value.Style = 0
			}
		}
	}
	for _, child := range n.Content {
		secondsToDurations(child)
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", JSON: false},
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logs: LogsConfig{
			Directory:    "/var/log/apache2",
			Glob:         "*.log",
			Family:       "apache",
			Variant:      "auto",
			Timezone:     "UTC",
			Workers:      4,
			MaxLineBytes: 64 * 1024,
		},
		Performance: PerformanceConfig{
			SlowEndpointAvg:     0.5,
			SlowEndpointP95:     1.0,
			HighErrorRate:       0.05,
			MinEndpointRequests: 1,
		},
		Anomaly: AnomalyConfig{
			Method:            detector.MethodZScore,
			Methods:           map[string]string{"error_rate": detector.MethodIQR, "request_rate": detector.MethodRolling},
			WindowSize:        5 * time.Minute,
			ZScoreThreshold:   3.0,
			IQRMultiplier:     1.5,
			MinDataPoints:     10,
			RollingWindow:     5,
			RollingMinPeriods: 3,
			BaselinePoints:    500,
		},
		Alerting: AlertingConfig{
			MinAnomalies:   1,
			ThrottlePeriod: time.Hour,
			ThrottleScope:  string(alerting.ScopeMetric),
		},
		Security: SecurityConfig{
			BruteForceThreshold: 5,
			BruteForceWindow:    5 * time.Minute,
		},
		Rules:     RulesConfig{Path: "configs/rules.yaml"},
		Database:  DatabaseConfig{Enabled: false, Path: "logscope.db"},
		Notifiers: NotifiersConfig{Log: true},
		Monitor: MonitorConfig{
			Interval:    time.Minute,
			SeenTTL:     24 * time.Hour,
			CacheSizeMB: 64,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_LOGSCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_LOG_DIR"); v != "" {
		cfg.Logs.Directory = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_LOG_GLOB"); v != "" {
		cfg.Logs.Glob = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_FAMILY"); v != "" {
		cfg.Logs.Family = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_VARIANT"); v != "" {
		cfg.Logs.Variant = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Logs.Workers = n
		}
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_PATTERNS_PATH"); v != "" {
		cfg.Patterns.Path = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_DB_PATH"); v != "" {
		cfg.Database.Path = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_THROTTLE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Alerting.ThrottlePeriod = d
		}
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_ARCHIVE_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_HEC_ENDPOINT"); v != "" {
		cfg.Notifiers.HEC.Endpoint = v
		cfg.Notifiers.HEC.Enabled = true
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_HEC_TOKEN"); v != "" {
		cfg.Notifiers.HEC.Token = v
	}
	if v := os.Getenv("MIRADOR_LOGSCOPE_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
}

// Location returns the zone applied to timestamps that carry none.
func (c *Config) Location() (*time.Location, error) {
	if c.Logs.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Logs.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Logs.Timezone, err)
	}
	return loc, nil
}

// Thresholds converts the performance section.
func (c *Config) Thresholds() analyzers.Thresholds {
	return analyzers.Thresholds{
		SlowEndpointAvg:     c.Performance.SlowEndpointAvg,
		SlowEndpointP95:     c.Performance.SlowEndpointP95,
		HighErrorRate:       c.Performance.HighErrorRate,
		MinEndpointRequests: c.Performance.MinEndpointRequests,
	}
}

// DetectorConfig converts the anomaly section.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		Method:  c.Anomaly.Method,
		Methods: c.Anomaly.Methods,
		Params: detector.Params{
			ZScoreThreshold:   c.Anomaly.ZScoreThreshold,
			IQRMultiplier:     c.Anomaly.IQRMultiplier,
			MinDataPoints:     c.Anomaly.MinDataPoints,
			RollingWindow:     c.Anomaly.RollingWindow,
			RollingMinPeriods: c.Anomaly.RollingMinPeriods,
		},
	}
}

// ThrottleConfig converts the alerting section.
func (c *Config) ThrottleConfig() alerting.ThrottleConfig {
	return alerting.ThrottleConfig{
		MinAnomalies: c.Alerting.MinAnomalies,
		Period:       c.Alerting.ThrottlePeriod,
		Scope:        alerting.Scope(c.Alerting.ThrottleScope),
	}
}

// HECNotifierConfig converts the HEC notifier section.
func (c *Config) HECNotifierConfig() alerting.HECConfig {
	h := c.Notifiers.HEC
	return alerting.HECConfig{
		Endpoint:      h.Endpoint,
		Token:         h.Token,
		ChannelID:     h.ChannelID,
		Index:         h.Index,
		Source:        h.Source,
		SourceType:    h.SourceType,
		TLSSkipVerify: h.TLSSkipVerify,
		Timeout:       h.Timeout,
	}
}

// SecurityRules merges the security section over the built-in rules and
// reads the suspicious source file when one is configured.
func (c *Config) SecurityRules() (analyzers.SecurityRules, error) {
	rules := analyzers.DefaultSecurityRules()
	s := c.Security

	rules.SuspiciousSources = append(rules.SuspiciousSources, s.SuspiciousIPs...)
	if s.SuspiciousIPsFile != "" {
		f, err := os.Open(s.SuspiciousIPsFile)
		if err != nil {
			return rules, fmt.Errorf("open suspicious ip list: %w", err)
		}
		defer f.Close()
		listed, err := analyzers.ReadSourceList(f)
		if err != nil {
			return rules, fmt.Errorf("read suspicious ip list: %w", err)
		}
		rules.SuspiciousSources = append(rules.SuspiciousSources, listed...)
	}
	if len(s.AttackSignatures) > 0 {
		rules.AttackSignatures = signatures(s.AttackSignatures)
	}
	if len(s.ScanSignatures) > 0 {
		rules.ScanSignatures = signatures(s.ScanSignatures)
	}
	if len(s.UnusualMethods) > 0 {
		rules.UnusualMethods = s.UnusualMethods
	}
	if s.BruteForceThreshold > 0 {
		rules.BruteForce.Threshold = s.BruteForceThreshold
	}
	if s.BruteForceWindow > 0 {
		rules.BruteForce.Window = s.BruteForceWindow
	}
	if len(s.BruteForceStatuses) > 0 {
		rules.BruteForce.StatusCodes = s.BruteForceStatuses
	}
	if len(s.BruteForceEndpoints) > 0 {
		rules.BruteForce.EndpointKeywords = s.BruteForceEndpoints
	}
	for category, weight := range s.Weights {
		rules.Weights[models.Category(category)] = weight
	}
	return rules, nil
}

func signatures(in []SignatureConfig) []analyzers.Signature {
	out := make([]analyzers.Signature, 0, len(in))
	for _, sc := range in {
		out = append(out, analyzers.Signature{
			Name:       sc.Name,
			Pattern:    sc.Pattern,
			Category:   models.Category(sc.Category),
			IgnoreCase: sc.IgnoreCase,
		})
	}
	return out
}
