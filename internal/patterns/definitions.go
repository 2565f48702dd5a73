package patterns

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Definitions is the YAML root of a pattern file.
type Definitions struct {
	Families map[string][]VariantDefinition `yaml:"families"`
}

// VariantDefinition is the uncompiled form of one LogPattern. Variants of a
// family are matched in the order they are listed.
type VariantDefinition struct {
	Name       string               `yaml:"name"`
	Kind       string               `yaml:"kind"`
	Expression string               `yaml:"expression"`
	Required   []string             `yaml:"required"`
	Fields     map[string]FieldSpec `yaml:"fields"`
}

// Decode parses pattern definitions, rejecting unknown keys.
func Decode(r io.Reader) (Definitions, error) {
	var defs Definitions
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return Definitions{}, fmt.Errorf("pattern file is empty")
		}
		return Definitions{}, fmt.Errorf("parse patterns: %w", err)
	}
	return defs, nil
}

// LoadFile reads definitions from path.
func LoadFile(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("read patterns: %w", err)
	}
	return Decode(bytes.NewReader(data))
}

// Build compiles every definition. The first invalid pattern aborts the build.
func Build(defs Definitions) (*Set, error) {
	if len(defs.Families) == 0 {
		return nil, fmt.Errorf("no pattern families defined")
	}
	families := make([]string, 0, len(defs.Families))
	for family := range defs.Families {
		families = append(families, family)
	}
	sort.Strings(families)

	set := NewSet()
	for _, family := range families {
		variants := defs.Families[family]
		if len(variants) == 0 {
			return nil, fmt.Errorf("family %q has no variants", family)
		}
		for _, def := range variants {
			p, err := Compile(family, def.Name, def)
			if err != nil {
				return nil, err
			}
			if err := set.add(p); err != nil {
				return nil, err
			}
		}
	}
	return set, nil
}

// Load builds a Set from path, or from DefaultDefinitions when path is empty.
func Load(path string) (*Set, error) {
	defs := DefaultDefinitions()
	if path != "" {
		var err error
		defs, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
	}
	return Build(defs)
}

var (
	apacheErrorLayouts = []string{"Mon Jan 02 15:04:05.000000 2006", "Mon Jan 02 15:04:05 2006"}
	optionalTiming     = map[string]FieldSpec{
		GroupBytesSent:    {Type: FieldInt, Placeholder: "-"},
		GroupResponseTime: {Type: FieldFloat, Placeholder: "-"},
	}
	bytesOnly = map[string]FieldSpec{
		GroupBytesSent: {Type: FieldInt, Placeholder: "-"},
	}
)

const (
	accessPrefix   = `(?P<ip_address>\S+) \S+ (?P<remote_user>\S+) \[(?P<timestamp>[^\]]+)\] "(?P<method>\S+) (?P<endpoint>\S+) (?P<protocol>[^"]*)" (?P<status>\d{3}) (?P<bytes_sent>\S+)`
	combinedSuffix = ` "(?P<referer>[^"]*)" "(?P<user_agent>[^"]*)"`
)

// DefaultDefinitions returns the built-in Apache and Nginx patterns.
func DefaultDefinitions() Definitions {
	return Definitions{Families: map[string][]VariantDefinition{
		"apache": {
			{Name: "combined_with_time", Expression: accessPrefix + combinedSuffix + ` (?P<response_time>\S+)`, Fields: optionalTiming},
			{Name: "combined", Expression: accessPrefix + combinedSuffix, Fields: bytesOnly},
			{Name: "common", Expression: accessPrefix, Fields: bytesOnly},
			{
				Name:       "error_24",
				Kind:       "error",
				Expression: `\[(?P<timestamp>[^\]]+)\] \[(?:(?P<module>[^:\]]+):)?(?P<level>[^\]]+)\] \[pid (?P<pid>\d+)(?::tid \d+)?\] (?:\[client (?P<ip_address>[^\]]+)\] )?(?P<message>.*)`,
				Fields:     map[string]FieldSpec{GroupTimestamp: {Type: FieldTimestamp, Layouts: apacheErrorLayouts}},
			},
			{
				Name:       "error",
				Kind:       "error",
				Expression: `\[(?P<timestamp>[^\]]+)\] \[(?P<level>[^\]]+)\] (?:\[client (?P<ip_address>[^\]]+)\] )?(?P<message>.*)`,
				Fields:     map[string]FieldSpec{GroupTimestamp: {Type: FieldTimestamp, Layouts: apacheErrorLayouts}},
			},
		},
		"nginx": {
			{Name: "combined_with_time", Expression: accessPrefix + combinedSuffix + ` rt=(?P<response_time>\S+)(?: .*)?`, Fields: optionalTiming},
			{Name: "combined", Expression: accessPrefix + combinedSuffix, Fields: bytesOnly},
			{
				Name:       "error",
				Kind:       "error",
				Expression: `(?P<timestamp>\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}) \[(?P<level>\w+)\] (?P<pid>\d+)#\d+: (?:\*\d+ )?(?P<message>.*?)(?:, client: (?P<ip_address>[^,]+).*)?`,
				Fields:     map[string]FieldSpec{GroupTimestamp: {Type: FieldTimestamp, Layouts: []string{"2006/01/02 15:04:05"}}},
			},
		},
	}}
}
