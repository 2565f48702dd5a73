package models

import "time"

// Category labels the kind of threat a finding represents.
type Category string

const (
	CategoryInjection        Category = "injection"
	CategoryTraversal        Category = "traversal"
	CategoryXSS              Category = "xss"
	CategoryReconnaissance   Category = "reconnaissance"
	CategoryBruteForce       Category = "brute_force"
	CategorySuspiciousSource Category = "suspicious_source"
	CategoryUnusualMethod    Category = "unusual_method"
)

// Categories returns every known category.
func Categories() []Category {
	return []Category{
		CategoryInjection,
		CategoryTraversal,
		CategoryXSS,
		CategoryReconnaissance,
		CategoryBruteForce,
		CategorySuspiciousSource,
		CategoryUnusualMethod,
	}
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ThreatFinding is one security observation tied to a record by index.
type ThreatFinding struct {
	Source      string
	Category    Category
	Signature   string
	Severity    float64
	RecordIndex int
	Timestamp   time.Time
	Endpoint    string
	Description string
}

// ThreatLevel buckets a per-source score.
type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// SourceScore ranks a source address by the weighted sum of its findings.
type SourceScore struct {
	Source     string
	Score      float64
	Level      ThreatLevel
	Categories map[Category]int
}

// SecurityReport is the security analyzer output for one batch.
type SecurityReport struct {
	Findings []ThreatFinding
	Sources  []SourceScore
}
