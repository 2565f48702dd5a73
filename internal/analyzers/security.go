package analyzers

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// Signature is a named regular expression that marks a request as hostile.
type Signature struct {
	Name       string
	Pattern    string
	Category   models.Category
	IgnoreCase bool
}

// BruteForceRule flags a source that accumulates Threshold failed requests
// inside Window.
type BruteForceRule struct {
	Threshold        int
	Window           time.Duration
	StatusCodes      []int
	EndpointKeywords []string
}

// SecurityRules is the analyzer's read-only input.
type SecurityRules struct {
	SuspiciousSources []string
	AttackSignatures  []Signature
	ScanSignatures    []Signature
	UnusualMethods    []string
	BruteForce        BruteForceRule
	Weights           map[models.Category]float64
}

// DefaultSecurityRules returns the built-in signature set.
func DefaultSecurityRules() SecurityRules {
	return SecurityRules{
		AttackSignatures: []Signature{
			{Name: "sql-keywords", Category: models.CategoryInjection, IgnoreCase: true, Pattern: `\b(?:union|select|insert|update|delete|drop)\b.*?\b(?:from|into|where|table)\b`},
			{Name: "sql-tautology", Category: models.CategoryInjection, IgnoreCase: true, Pattern: `'\s*or\s+'?\d+'?\s*=\s*'?\d+`},
			{Name: "dot-dot-slash", Category: models.CategoryTraversal, Pattern: `\.\.[/\\]`},
			{Name: "etc-passwd", Category: models.CategoryTraversal, Pattern: `/etc/(?:passwd|shadow)`},
			{Name: "script-tag", Category: models.CategoryXSS, IgnoreCase: true, Pattern: `<script[^>]*>`},
			{Name: "js-uri", Category: models.CategoryXSS, IgnoreCase: true, Pattern: `javascript:`},
		},
		ScanSignatures: []Signature{
			{Name: "admin-panels", IgnoreCase: true, Pattern: `/(?:wp-admin|wp-login|administrator|admin|phpmyadmin)\b`},
			{Name: "dotfiles", IgnoreCase: true, Pattern: `/\.(?:git|env|htaccess|htpasswd|svn|DS_Store)\b`},
			{Name: "config-files", IgnoreCase: true, Pattern: `\.(?:config|ini|bak|sql)$`},
		},
		UnusualMethods: []string{"PUT", "DELETE", "TRACE", "CONNECT", "OPTIONS"},
		BruteForce: BruteForceRule{
			Threshold:        5,
			Window:           5 * time.Minute,
			StatusCodes:      []int{401, 403},
			EndpointKeywords: []string{"login", "signin", "auth", "wp-login", "admin"},
		},
		Weights: DefaultWeights(),
	}
}

// DefaultWeights maps categories onto low=1, medium=5, high=10 severities.
func DefaultWeights() map[models.Category]float64 {
	return map[models.Category]float64{
		models.CategoryInjection:        10,
		models.CategoryTraversal:        10,
		models.CategoryXSS:              10,
		models.CategoryReconnaissance:   5,
		models.CategoryBruteForce:       10,
		models.CategorySuspiciousSource: 10,
		models.CategoryUnusualMethod:    5,
	}
}

// Threat level boundaries on a source's summed severity.
const (
	threatHighScore   = 20
	threatMediumScore = 10
)

type compiledSignature struct {
	Signature
	re *regexp.Regexp
}

// SecurityAnalyzer scores records against signature and source rules.
type SecurityAnalyzer struct {
	suspicious map[string]struct{}
	attacks    []compiledSignature
	scans      []compiledSignature
	methods    map[string]struct{}
	brute      BruteForceRule
	bruteCodes map[int]struct{}
	weights    map[models.Category]float64
}

// NewSecurityAnalyzer compiles rules. An invalid expression is a
// configuration error.
func NewSecurityAnalyzer(rules SecurityRules) (*SecurityAnalyzer, error) {
	a := &SecurityAnalyzer{
		suspicious: make(map[string]struct{}, len(rules.SuspiciousSources)),
		methods:    make(map[string]struct{}, len(rules.UnusualMethods)),
		brute:      rules.BruteForce,
		bruteCodes: make(map[int]struct{}, len(rules.BruteForce.StatusCodes)),
		weights:    DefaultWeights(),
	}
	for _, src := range rules.SuspiciousSources {
		if src = strings.TrimSpace(src); src != "" {
			a.suspicious[src] = struct{}{}
		}
	}
	var err error
	if a.attacks, err = compileSignatures(rules.AttackSignatures, models.CategoryInjection); err != nil {
		return nil, err
	}
	if a.scans, err = compileSignatures(rules.ScanSignatures, models.CategoryReconnaissance); err != nil {
		return nil, err
	}
	for _, m := range rules.UnusualMethods {
		a.methods[strings.ToUpper(m)] = struct{}{}
	}
	for _, code := range rules.BruteForce.StatusCodes {
		a.bruteCodes[code] = struct{}{}
	}
	for cat, w := range rules.Weights {
		if !cat.Valid() {
			return nil, fmt.Errorf("weight for unknown category %q", cat)
		}
		if w < 0 {
			return nil, fmt.Errorf("weight for %s must not be negative", cat)
		}
		a.weights[cat] = w
	}
	if a.brute.Threshold > 0 && a.brute.Window <= 0 {
		return nil, fmt.Errorf("brute force window must be positive")
	}
	return a, nil
}

func compileSignatures(sigs []Signature, fallback models.Category) ([]compiledSignature, error) {
	out := make([]compiledSignature, 0, len(sigs))
	for i, sig := range sigs {
		if sig.Name == "" {
			sig.Name = fmt.Sprintf("signature-%d", i+1)
		}
		if sig.Category == "" {
			sig.Category = fallback
		}
		if !sig.Category.Valid() {
			return nil, fmt.Errorf("signature %s: unknown category %q", sig.Name, sig.Category)
		}
		expr := sig.Pattern
		if sig.IgnoreCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("signature %s: %w", sig.Name, err)
		}
		out = append(out, compiledSignature{Signature: sig, re: re})
	}
	return out, nil
}

// Analyze returns every finding for batch plus a per-source ranking.
func (a *SecurityAnalyzer) Analyze(batch models.Batch) models.SecurityReport {
	findings := make([]models.ThreatFinding, 0)
	seenMethod := make(map[string]struct{})

	for idx, r := range batch.Records {
		if r.Kind != models.KindAccess {
			continue
		}
		src := sourceOf(r)
		finding := func(cat models.Category, sig, desc string) models.ThreatFinding {
			return models.ThreatFinding{
				Source:      src,
				Category:    cat,
				Signature:   sig,
				Severity:    a.weights[cat],
				RecordIndex: idx,
				Timestamp:   r.Timestamp,
				Endpoint:    r.Endpoint,
				Description: desc,
			}
		}

		if _, ok := a.suspicious[r.IPAddress]; ok {
			findings = append(findings, finding(models.CategorySuspiciousSource, r.IPAddress,
				fmt.Sprintf("request from listed source %s", r.IPAddress)))
		}

		decoded := r.Endpoint
		if d, err := url.QueryUnescape(r.Endpoint); err == nil {
			decoded = d
		}
		for _, sig := range a.attacks {
			if sig.re.MatchString(r.Endpoint) || (decoded != r.Endpoint && sig.re.MatchString(decoded)) {
				findings = append(findings, finding(sig.Category, sig.Name,
					fmt.Sprintf("%s pattern %s in %s", sig.Category, sig.Name, r.Endpoint)))
			}
		}

		path := r.Path()
		for _, sig := range a.scans {
			if sig.re.MatchString(path) {
				findings = append(findings, finding(models.CategoryReconnaissance, sig.Name,
					fmt.Sprintf("scan for %s", path)))
				break
			}
		}

		method := strings.ToUpper(r.Method)
		if _, ok := a.methods[method]; ok {
			key := method + "\x00" + src
			if _, seen := seenMethod[key]; !seen {
				seenMethod[key] = struct{}{}
				findings = append(findings, finding(models.CategoryUnusualMethod, method,
					fmt.Sprintf("unusual HTTP method %s from %s", method, src)))
			}
		}
	}

	findings = append(findings, a.bruteForce(batch)...)
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].RecordIndex < findings[j].RecordIndex
	})

	return models.SecurityReport{Findings: findings, Sources: a.Rank(findings)}
}

// bruteForce walks failed authentication attempts in timestamp order with a
// sliding window per source. Reaching the threshold emits one finding and
// restarts that source's window.
func (a *SecurityAnalyzer) bruteForce(batch models.Batch) []models.ThreatFinding {
	out := make([]models.ThreatFinding, 0)
	if a.brute.Threshold <= 0 {
		return out
	}

	candidates := make([]int, 0)
	for idx, r := range batch.Records {
		if r.Kind != models.KindAccess {
			continue
		}
		if _, ok := a.bruteCodes[r.Status]; !ok {
			continue
		}
		if !a.matchesKeyword(r.Endpoint) {
			continue
		}
		candidates = append(candidates, idx)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return batch.Records[candidates[i]].Timestamp.Before(batch.Records[candidates[j]].Timestamp)
	})

	windows := make(map[string][]time.Time)
	for _, idx := range candidates {
		r := batch.Records[idx]
		src := sourceOf(r)
		cutoff := r.Timestamp.Add(-a.brute.Window)
		window := windows[src]
		keep := 0
		for keep < len(window) && !window[keep].After(cutoff) {
			keep++
		}
		window = append(window[keep:], r.Timestamp)
		if len(window) >= a.brute.Threshold {
			out = append(out, models.ThreatFinding{
				Source:      src,
				Category:    models.CategoryBruteForce,
				Signature:   "failed-auth-burst",
				Severity:    a.weights[models.CategoryBruteForce],
				RecordIndex: idx,
				Timestamp:   r.Timestamp,
				Endpoint:    r.Endpoint,
				Description: fmt.Sprintf("%d failed authentication attempts from %s within %s", len(window), src, a.brute.Window),
			})
			window = nil
		}
		windows[src] = window
	}
	return out
}

func (a *SecurityAnalyzer) matchesKeyword(endpoint string) bool {
	if len(a.brute.EndpointKeywords) == 0 {
		return true
	}
	lower := strings.ToLower(endpoint)
	for _, kw := range a.brute.EndpointKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Rank sums finding severities per source, highest score first.
func (a *SecurityAnalyzer) Rank(findings []models.ThreatFinding) []models.SourceScore {
	bySource := make(map[string]*models.SourceScore)
	for _, f := range findings {
		score, ok := bySource[f.Source]
		if !ok {
			score = &models.SourceScore{Source: f.Source, Categories: make(map[models.Category]int)}
			bySource[f.Source] = score
		}
		score.Score += f.Severity
		score.Categories[f.Category]++
	}

	out := make([]models.SourceScore, 0, len(bySource))
	for _, score := range bySource {
		score.Level = ThreatLevelFor(score.Score)
		out = append(out, *score)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// ThreatLevelFor buckets a summed severity.
func ThreatLevelFor(score float64) models.ThreatLevel {
	switch {
	case score >= threatHighScore:
		return models.ThreatHigh
	case score >= threatMediumScore:
		return models.ThreatMedium
	default:
		return models.ThreatLow
	}
}

func sourceOf(r models.Record) string {
	if r.IPAddress == "" {
		return "unknown"
	}
	return r.IPAddress
}

// ReadSourceList parses one address per line, skipping blanks and # comments.
func ReadSourceList(r io.Reader) ([]string, error) {
	out := make([]string, 0)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read source list: %w", err)
	}
	return out, nil
}
