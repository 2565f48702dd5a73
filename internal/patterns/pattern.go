package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-logscope/internal/models"
)

// FieldType is the coercion applied to a captured group.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInt       FieldType = "int"
	FieldFloat     FieldType = "float"
	FieldTimestamp FieldType = "timestamp"
)

// Capture group names a pattern may use. Each maps onto a models.Record field.
const (
	GroupIPAddress    = "ip_address"
	GroupRemoteUser   = "remote_user"
	GroupTimestamp    = "timestamp"
	GroupMethod       = "method"
	GroupEndpoint     = "endpoint"
	GroupProtocol     = "protocol"
	GroupStatus       = "status"
	GroupBytesSent    = "bytes_sent"
	GroupResponseTime = "response_time"
	GroupReferer      = "referer"
	GroupUserAgent    = "user_agent"
	GroupLevel        = "level"
	GroupModule       = "module"
	GroupPID          = "pid"
	GroupMessage      = "message"
)

// ApacheTimeLayout is the access log timestamp layout, e.g. 10/Oct/2023:13:55:36 -0700.
const ApacheTimeLayout = "02/Jan/2006:15:04:05 -0700"

var knownGroups = map[string]FieldType{
	GroupIPAddress:    FieldString,
	GroupRemoteUser:   FieldString,
	GroupTimestamp:    FieldTimestamp,
	GroupMethod:       FieldString,
	GroupEndpoint:     FieldString,
	GroupProtocol:     FieldString,
	GroupStatus:       FieldInt,
	GroupBytesSent:    FieldInt,
	GroupResponseTime: FieldFloat,
	GroupReferer:      FieldString,
	GroupUserAgent:    FieldString,
	GroupLevel:        FieldString,
	GroupModule:       FieldString,
	GroupPID:          FieldString,
	GroupMessage:      FieldString,
}

// FieldSpec describes how a captured group is coerced.
type FieldSpec struct {
	Type FieldType `yaml:"type"`
	// Layouts are tried in order for timestamp fields.
	Layouts []string `yaml:"layouts"`
	// Placeholder is the literal a format writes when it has no value, e.g. "-".
	Placeholder string `yaml:"placeholder"`
	// Scale multiplies numeric values, e.g. 0.000001 for microsecond timings.
	Scale float64 `yaml:"scale"`
}

// LogPattern is a compiled, immutable extraction pattern for one format variant.
type LogPattern struct {
	Family     string
	Variant    string
	Kind       models.LogKind
	Expression string
	Fields     map[string]FieldSpec
	Required   []string

	re     *regexp.Regexp
	groups []string
}

// ID returns family/variant.
func (p *LogPattern) ID() string {
	return p.Family + "/" + p.Variant
}

// Match runs the anchored expression against line and returns the named
// captures. ok is false when the line does not fully match.
func (p *LogPattern) Match(line string) (captures map[string]string, ok bool) {
	m := p.re.FindStringSubmatchIndex(line)
	if m == nil {
		return nil, false
	}
	captures = make(map[string]string, len(p.groups))
	for i, name := range p.groups {
		if name == "" {
			continue
		}
		start, end := m[2*i], m[2*i+1]
		if start < 0 {
			continue
		}
		captures[name] = line[start:end]
	}
	return captures, true
}

// Groups returns the named capture groups in expression order.
func (p *LogPattern) Groups() []string {
	out := make([]string, 0, len(p.groups))
	for _, g := range p.groups {
		if g != "" {
			out = append(out, g)
		}
	}
	return out
}

// Compile validates a definition and produces a LogPattern. The expression is
// anchored so only full-line matches succeed.
func Compile(family, variant string, def VariantDefinition) (*LogPattern, error) {
	if family == "" || variant == "" {
		return nil, fmt.Errorf("pattern family and variant are required")
	}
	id := family + "/" + variant
	if strings.TrimSpace(def.Expression) == "" {
		return nil, fmt.Errorf("pattern %s: empty expression", id)
	}
	re, err := regexp.Compile(`^(?:` + def.Expression + `)$`)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: compile: %w", id, err)
	}

	kind := models.LogKind(strings.ToLower(def.Kind))
	switch kind {
	case "":
		kind = models.KindAccess
	case models.KindAccess, models.KindError:
	default:
		return nil, fmt.Errorf("pattern %s: unknown kind %q", id, def.Kind)
	}

	groups := re.SubexpNames()
	present := make(map[string]struct{}, len(groups))
	fields := make(map[string]FieldSpec, len(groups))
	for _, name := range groups {
		if name == "" {
			continue
		}
		defaultType, known := knownGroups[name]
		if !known {
			return nil, fmt.Errorf("pattern %s: unknown capture group %q", id, name)
		}
		present[name] = struct{}{}
		spec := def.Fields[name]
		if spec.Type == "" {
			spec.Type = defaultType
		}
		if err := validateField(name, spec); err != nil {
			return nil, fmt.Errorf("pattern %s: field %s: %w", id, name, err)
		}
		if spec.Type == FieldTimestamp && len(spec.Layouts) == 0 {
			spec.Layouts = []string{ApacheTimeLayout}
		}
		fields[name] = spec
	}
	for name := range def.Fields {
		if _, ok := present[name]; !ok {
			return nil, fmt.Errorf("pattern %s: field %q has no capture group", id, name)
		}
	}

	required := def.Required
	if len(required) == 0 {
		required = defaultRequired(kind)
	}
	for _, name := range required {
		if _, ok := present[name]; !ok {
			return nil, fmt.Errorf("pattern %s: required field %q has no capture group", id, name)
		}
	}
	if _, ok := present[GroupTimestamp]; !ok {
		return nil, fmt.Errorf("pattern %s: a timestamp capture group is required", id)
	}

	return &LogPattern{
		Family:     family,
		Variant:    variant,
		Kind:       kind,
		Expression: def.Expression,
		Fields:     fields,
		Required:   append([]string(nil), required...),
		re:         re,
		groups:     groups,
	}, nil
}

func validateField(name string, spec FieldSpec) error {
	switch spec.Type {
	case FieldString, FieldInt, FieldFloat, FieldTimestamp:
	default:
		return fmt.Errorf("unknown type %q", spec.Type)
	}
	allowed := false
	switch name {
	case GroupTimestamp:
		allowed = spec.Type == FieldTimestamp
	case GroupStatus, GroupBytesSent, GroupResponseTime:
		allowed = spec.Type == FieldInt || spec.Type == FieldFloat
	case GroupPID:
		allowed = spec.Type == FieldString || spec.Type == FieldInt
	default:
		allowed = spec.Type == FieldString
	}
	if !allowed {
		return fmt.Errorf("type %s not valid for this field", spec.Type)
	}
	if spec.Scale < 0 {
		return fmt.Errorf("negative scale %v", spec.Scale)
	}
	return nil
}

func defaultRequired(kind models.LogKind) []string {
	if kind == models.KindError {
		return []string{GroupTimestamp}
	}
	return []string{GroupTimestamp, GroupStatus}
}

// KnownGroups returns the capture group names patterns may use, sorted.
func KnownGroups() []string {
	out := make([]string, 0, len(knownGroups))
	for name := range knownGroups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
