package patterns

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// UnknownPatternError is returned when a family or variant is not registered.
type UnknownPatternError struct {
	Family  string
	Variant string
}

func (e *UnknownPatternError) Error() string {
	if e.Variant == "" {
		return fmt.Sprintf("unknown log format family %q", e.Family)
	}
	return fmt.Sprintf("unknown log pattern %s/%s", e.Family, e.Variant)
}

// Set is an immutable collection of compiled patterns grouped by family.
// Variants keep definition order, which is their matching priority.
type Set struct {
	families map[string][]*LogPattern
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{families: make(map[string][]*LogPattern)}
}

func (s *Set) clone() *Set {
	out := NewSet()
	for family, variants := range s.families {
		out.families[family] = append([]*LogPattern(nil), variants...)
	}
	return out
}

func (s *Set) add(p *LogPattern) error {
	for _, existing := range s.families[p.Family] {
		if existing.Variant == p.Variant {
			return fmt.Errorf("pattern %s already registered", p.ID())
		}
	}
	s.families[p.Family] = append(s.families[p.Family], p)
	return nil
}

// Len returns the total number of patterns.
func (s *Set) Len() int {
	n := 0
	for _, variants := range s.families {
		n += len(variants)
	}
	return n
}

// Registry resolves patterns by family and variant. Readers always see a
// complete Set; Register and Replace publish a new Set rather than editing
// the current one.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[Set]
}

// NewRegistry returns a Registry holding set (an empty set when nil).
func NewRegistry(set *Set) *Registry {
	if set == nil {
		set = NewSet()
	}
	r := &Registry{}
	r.current.Store(set)
	return r
}

// Register adds a compiled pattern under family/variant.
func (r *Registry) Register(family, variant string, pattern *LogPattern) error {
	if pattern == nil {
		return fmt.Errorf("register %s/%s: nil pattern", family, variant)
	}
	if pattern.Family != family || pattern.Variant != variant {
		return fmt.Errorf("register %s/%s: pattern is %s", family, variant, pattern.ID())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	if err := next.add(pattern); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// Replace swaps the whole pattern set in one step.
func (r *Registry) Replace(set *Set) {
	if set == nil {
		set = NewSet()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.Store(set)
}

// Resolve returns the pattern for family/variant or an *UnknownPatternError.
func (r *Registry) Resolve(family, variant string) (*LogPattern, error) {
	variants, ok := r.current.Load().families[family]
	if !ok {
		return nil, &UnknownPatternError{Family: family}
	}
	for _, p := range variants {
		if p.Variant == variant {
			return p, nil
		}
	}
	return nil, &UnknownPatternError{Family: family, Variant: variant}
}

// Variants returns the family's patterns in priority order, most specific first.
func (r *Registry) Variants(family string) ([]*LogPattern, error) {
	variants, ok := r.current.Load().families[family]
	if !ok || len(variants) == 0 {
		return nil, &UnknownPatternError{Family: family}
	}
	return append([]*LogPattern(nil), variants...), nil
}

// Families returns the registered family names, sorted.
func (r *Registry) Families() []string {
	set := r.current.Load()
	out := make([]string, 0, len(set.families))
	for family := range set.families {
		out = append(out, family)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	return r.current.Load().Len()
}
