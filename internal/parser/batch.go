package parser

import (
	"errors"
	"strings"

	"github.com/miradorstack/mirador-logscope/internal/models"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
)

// maxFailureSamples bounds the raw lines kept for diagnostics.
const maxFailureSamples = 5

// detectSample is the number of lines DetectVariant inspects.
const detectSample = 100

// Target selects what ParseLines matches against: a fixed pattern, or every
// variant of a family in priority order.
type Target struct {
	Family  string
	Pattern *patterns.LogPattern
}

// ParseLines parses lines in order into a batch. Blank lines are counted but
// not treated as failures. A ParseFailure never aborts the pass; any other
// error (an unknown family) does.
func (p *Parser) ParseLines(source string, lines []string, target Target) (models.Batch, models.ParseStats, error) {
	batch := models.Batch{Source: source, Records: make([]models.Record, 0, len(lines))}
	stats := models.ParseStats{}

	if target.Pattern == nil {
		if _, err := p.registry.Variants(target.Family); err != nil {
			return batch, stats, err
		}
	}

	for _, line := range lines {
		stats.Total++
		if strings.TrimSpace(line) == "" {
			stats.Blank++
			continue
		}
		var (
			rec models.Record
			err error
		)
		if target.Pattern != nil {
			rec, err = p.Parse(line, target.Pattern)
		} else {
			rec, err = p.ParseFamily(line, target.Family)
		}
		if err != nil {
			var failure *ParseFailure
			if !errors.As(err, &failure) {
				return batch, stats, err
			}
			stats.Failed++
			if len(stats.Samples) < maxFailureSamples {
				stats.Samples = append(stats.Samples, failure.Line)
			}
			continue
		}
		batch.Records = append(batch.Records, rec)
		stats.Parsed++
	}
	return batch, stats, nil
}

// DetectVariant samples up to the first 100 non-blank lines and returns the
// family variant that matches at least half of them. Ties go to the variant
// listed first.
func (p *Parser) DetectVariant(lines []string, family string) (*patterns.LogPattern, error) {
	variants, err := p.registry.Variants(family)
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(variants))
	sampled := 0
	for _, line := range lines {
		if sampled == detectSample {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		sampled++
		for i, pattern := range variants {
			if _, err := p.Parse(line, pattern); err == nil {
				counts[i]++
				break
			}
		}
	}
	if sampled == 0 {
		return nil, ErrFormatUnknown
	}

	best := -1
	for i, n := range counts {
		if best < 0 || n > counts[best] {
			best = i
		}
	}
	if counts[best]*2 < sampled {
		return nil, ErrFormatUnknown
	}
	return variants[best], nil
}
