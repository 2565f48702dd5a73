package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-logscope/internal/models"
	"github.com/miradorstack/mirador-logscope/internal/patterns"
	"github.com/miradorstack/mirador-logscope/internal/utils"
)

// ErrFormatUnknown is returned by DetectVariant when no variant dominates the sample.
var ErrFormatUnknown = errors.New("log format could not be detected")

// ParseFailure describes a line that did not yield a record. It is an expected
// outcome for malformed input, not a fault.
type ParseFailure struct {
	Line    string
	Pattern string
	Reason  string
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("parse %s: %s", f.Pattern, f.Reason)
}

// Parser turns raw lines into records using compiled patterns.
type Parser struct {
	registry *patterns.Registry
	location *time.Location
}

// Option customises a Parser.
type Option func(*Parser)

// WithLocation sets the zone used for timestamp layouts that carry no offset.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.location = loc
		}
	}
}

// New returns a Parser resolving families through registry.
func New(registry *patterns.Registry, opts ...Option) *Parser {
	p := &Parser{registry: registry, location: time.UTC}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse applies pattern to one line. A non-matching line or a failed coercion
// yields a *ParseFailure; no partially populated record is ever returned.
func (p *Parser) Parse(line string, pattern *patterns.LogPattern) (models.Record, error) {
	line = strings.TrimRight(line, "\r\n")
	if pattern == nil {
		return models.Record{}, &ParseFailure{Line: line, Reason: "no pattern"}
	}
	captures, ok := pattern.Match(line)
	if !ok {
		return models.Record{}, &ParseFailure{Line: line, Pattern: pattern.ID(), Reason: "no match"}
	}

	fail := func(format string, args ...any) (models.Record, error) {
		return models.Record{}, &ParseFailure{Line: line, Pattern: pattern.ID(), Reason: fmt.Sprintf(format, args...)}
	}

	for _, name := range pattern.Required {
		value := captures[name]
		spec := pattern.Fields[name]
		if value == "" || (spec.Placeholder != "" && value == spec.Placeholder) {
			return fail("required field %s missing", name)
		}
	}

	rec := models.Record{Kind: pattern.Kind, Pattern: pattern.ID(), Raw: line}
	for name, raw := range captures {
		spec := pattern.Fields[name]
		if spec.Placeholder != "" && raw == spec.Placeholder {
			// bytes_sent keeps its zero value; response_time stays absent.
			continue
		}
		if raw == "" && spec.Type != patterns.FieldString {
			continue
		}
		if err := p.assign(&rec, name, raw, spec); err != nil {
			return fail("field %s: %v", name, err)
		}
	}
	return rec, nil
}

func (p *Parser) assign(rec *models.Record, name, raw string, spec patterns.FieldSpec) error {
	switch spec.Type {
	case patterns.FieldTimestamp:
		ts, err := utils.ParseTimestamp(raw, spec.Layouts, p.location)
		if err != nil {
			return err
		}
		rec.Timestamp = ts
		return nil
	case patterns.FieldInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", raw)
		}
		if spec.Scale > 0 {
			return setNumber(rec, name, float64(n)*spec.Scale)
		}
		return setNumber(rec, name, float64(n))
	case patterns.FieldFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", raw)
		}
		if spec.Scale > 0 {
			f *= spec.Scale
		}
		return setNumber(rec, name, f)
	default:
		setString(rec, name, raw)
		return nil
	}
}

func setNumber(rec *models.Record, name string, v float64) error {
	switch name {
	case patterns.GroupStatus:
		if v < 100 || v > 599 {
			return fmt.Errorf("status %v out of range", v)
		}
		rec.Status = int(v)
	case patterns.GroupBytesSent:
		if v < 0 {
			return fmt.Errorf("negative byte count")
		}
		rec.BytesSent = int64(v)
	case patterns.GroupResponseTime:
		if v < 0 {
			return fmt.Errorf("negative response time")
		}
		rec.ResponseTime = v
		rec.HasResponseTime = true
	case patterns.GroupPID:
		rec.PID = strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Errorf("numeric coercion not supported")
	}
	return nil
}

func setString(rec *models.Record, name, v string) {
	switch name {
	case patterns.GroupIPAddress:
		rec.IPAddress = v
	case patterns.GroupRemoteUser:
		rec.RemoteUser = v
	case patterns.GroupMethod:
		rec.Method = v
	case patterns.GroupEndpoint:
		rec.Endpoint = v
	case patterns.GroupProtocol:
		rec.Protocol = v
	case patterns.GroupReferer:
		rec.Referer = v
	case patterns.GroupUserAgent:
		rec.UserAgent = v
	case patterns.GroupLevel:
		rec.Level = v
	case patterns.GroupModule:
		rec.Module = v
	case patterns.GroupPID:
		rec.PID = v
	case patterns.GroupMessage:
		rec.Message = v
	}
}

// ParseFamily tries the family's variants in priority order and returns the
// first record produced. When none match the failure of the first variant is
// returned.
func (p *Parser) ParseFamily(line, family string) (models.Record, error) {
	variants, err := p.registry.Variants(family)
	if err != nil {
		return models.Record{}, err
	}
	var first error
	for _, pattern := range variants {
		rec, err := p.Parse(line, pattern)
		if err == nil {
			return rec, nil
		}
		if first == nil {
			first = err
		}
	}
	return models.Record{}, first
}
