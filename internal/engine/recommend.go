package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// RuleEngine attaches operator recommendations to alerts and performance issues.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	Metric         string   `yaml:"metric"`
	Severity       string   `yaml:"severity"`
	Issue          string   `yaml:"issue"`
	SourceContains []string `yaml:"source_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty or the
// file does not exist, returns a nil engine, which recommends nothing.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("recommendation rules loaded", slog.String("path", path), slog.Int("rules", len(cfg.Rules)))
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// NewRuleEngineFromRules wraps an in-memory rule list.
func NewRuleEngineFromRules(rules []Rule, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: rules, logger: logger}
}

// RecommendAlert returns recommendations for an emitted decision. A rule
// matches when any of the decision's events satisfies it.
func (e *RuleEngine) RecommendAlert(decision models.AlertDecision) []string {
	if e == nil {
		return nil
	}
	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.Issue != "" {
			continue
		}
		for _, ev := range decision.Events {
			if metricMatches(rule.Match.Metric, ev.Metric) &&
				severityMatches(rule.Match.Severity, ev.Severity) &&
				sourceContains(rule.Match.SourceContains, ev.Source) {
				matched = appendUnique(matched, rule.Recommendations...)
				break
			}
		}
	}
	return matched
}

// RecommendIssue returns recommendations for a performance issue.
func (e *RuleEngine) RecommendIssue(issue models.Issue) []string {
	if e == nil {
		return nil
	}
	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.Issue == "" || !strings.EqualFold(rule.Match.Issue, string(issue.Type)) {
			continue
		}
		if !severityMatches(rule.Match.Severity, issue.Severity) {
			continue
		}
		if !sourceContains(rule.Match.SourceContains, issue.Endpoint) {
			continue
		}
		matched = appendUnique(matched, rule.Recommendations...)
	}
	return matched
}

func metricMatches(want, got string) bool {
	if want == "" {
		return true
	}
	if strings.HasSuffix(want, "*") {
		return strings.HasPrefix(got, strings.TrimSuffix(want, "*"))
	}
	return strings.EqualFold(want, got)
}

func severityMatches(want string, got models.Severity) bool {
	return want == "" || strings.EqualFold(want, string(got))
}

func sourceContains(keywords []string, value string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(value)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
