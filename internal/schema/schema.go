// Package schema declares column mappings and data type rules. A Registry is
// built once at startup and never mutated; derived registries (WithAliases)
// are new values.
package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"csvpipeline/internal/transformer/builtin"
)

// ErrCorruptSchema is returned when a registry cannot be built from its
// declaration.
var ErrCorruptSchema = errors.New("corrupt schema")

// DataType names a Rule.
type DataType string

// Primitive types have a rule in every registry; Date and Amount are added by
// the sales schema.
const (
	TypeString DataType = "string"
	TypeFloat  DataType = "float"
	TypeInt    DataType = "int"
	TypeDate   DataType = "Date"
	TypeAmount DataType = "Amount"
)

// Step is one named cell transformation.
type Step struct {
	Name string
	Fn   func(string) (string, error)
}

// Rule is an ordered sequence of steps applied left to right.
type Rule struct {
	Type  DataType
	Steps []Step
}

// Apply runs the steps in order. The first failure short-circuits and the
// original cell is returned alongside the error.
func (r Rule) Apply(cell string) (string, error) {
	cur := cell
	for _, st := range r.Steps {
		next, err := st.Fn(cur)
		if err != nil {
			return cell, fmt.Errorf("%s: %w", st.Name, err)
		}
		cur = next
	}
	return cur, nil
}

// ColumnMapping maps one raw input column onto a standard column.
type ColumnMapping struct {
	Source   string
	Standard string
	Type     DataType

	// Optional columns never make a row unusable when coercion fails.
	Optional bool

	// PostProcessing, when set, names a second rule applied after Type.
	PostProcessing DataType
}

// Registry is an immutable lookup over column mappings and rules.
type Registry struct {
	columns  []ColumnMapping
	bySource map[string]int
	byFold   map[string]int
	aliases  map[string]int
	rules    map[DataType]Rule
}

// PrimitiveRules returns the rules for string, float and int.
func PrimitiveRules() []Rule {
	return []Rule{
		{Type: TypeString, Steps: []Step{{Name: "identity", Fn: builtin.Identity}}},
		{Type: TypeFloat, Steps: []Step{{Name: "to_float", Fn: builtin.ToFloat}}},
		{Type: TypeInt, Steps: []Step{{Name: "to_int", Fn: builtin.ToInt}}},
	}
}

// NewRegistry validates the declaration and builds a Registry. Primitive
// rules are always present; rules passed in override them by type.
func NewRegistry(columns []ColumnMapping, rules []Rule) (*Registry, error) {
	r := &Registry{
		columns:  slices.Clone(columns),
		bySource: make(map[string]int, len(columns)),
		byFold:   make(map[string]int, len(columns)),
		rules:    make(map[DataType]Rule),
	}
	for _, rule := range PrimitiveRules() {
		r.rules[rule.Type] = rule
	}
	for _, rule := range rules {
		if rule.Type == "" {
			return nil, fmt.Errorf("%w: rule without type", ErrCorruptSchema)
		}
		r.rules[rule.Type] = Rule{Type: rule.Type, Steps: slices.Clone(rule.Steps)}
	}

	standards := make(map[string]struct{}, len(columns))
	for i, c := range r.columns {
		if strings.TrimSpace(c.Source) == "" || strings.TrimSpace(c.Standard) == "" {
			return nil, fmt.Errorf("%w: column %d has empty source or standard name", ErrCorruptSchema, i)
		}
		if _, dup := r.bySource[c.Source]; dup {
			return nil, fmt.Errorf("%w: duplicate source column %q", ErrCorruptSchema, c.Source)
		}
		if _, dup := standards[c.Standard]; dup {
			return nil, fmt.Errorf("%w: duplicate standard column %q", ErrCorruptSchema, c.Standard)
		}
		if _, ok := r.rules[c.Type]; !ok {
			return nil, fmt.Errorf("%w: column %q has unknown type %q", ErrCorruptSchema, c.Source, c.Type)
		}
		if c.PostProcessing != "" {
			if _, ok := r.rules[c.PostProcessing]; !ok {
				return nil, fmt.Errorf("%w: column %q has unknown post-processing type %q", ErrCorruptSchema, c.Source, c.PostProcessing)
			}
		}
		r.bySource[c.Source] = i
		r.byFold[strings.ToLower(c.Source)] = i
		standards[c.Standard] = struct{}{}
	}
	return r, nil
}

// WithAliases returns a new registry in which each alias key resolves to the
// column whose source name is the alias value.
func (r *Registry) WithAliases(aliases map[string]string) (*Registry, error) {
	out := *r
	out.aliases = make(map[string]int, len(r.aliases)+len(aliases))
	for k, v := range r.aliases {
		out.aliases[k] = v
	}
	for alias, source := range aliases {
		i, ok := r.bySource[source]
		if !ok {
			return nil, fmt.Errorf("%w: alias %q targets unknown column %q", ErrCorruptSchema, alias, source)
		}
		out.aliases[alias] = i
	}
	return &out, nil
}

// Lookup resolves a raw header: exact source name, then alias, then
// case-insensitive source name.
func (r *Registry) Lookup(raw string) (ColumnMapping, bool) {
	if i, ok := r.bySource[raw]; ok {
		return r.columns[i], true
	}
	if i, ok := r.aliases[raw]; ok {
		return r.columns[i], true
	}
	if i, ok := r.byFold[strings.ToLower(raw)]; ok {
		return r.columns[i], true
	}
	return ColumnMapping{}, false
}

// Rule returns the rule for t.
func (r *Registry) Rule(t DataType) (Rule, bool) {
	rule, ok := r.rules[t]
	return rule, ok
}

// Columns returns a copy of the declared mappings in declaration order.
func (r *Registry) Columns() []ColumnMapping {
	return slices.Clone(r.columns)
}

// Coerce applies the column's rule and then its post-processing rule.
func (r *Registry) Coerce(c ColumnMapping, cell string) (string, error) {
	rule, ok := r.rules[c.Type]
	if !ok {
		return cell, fmt.Errorf("%w: unknown type %q", ErrCorruptSchema, c.Type)
	}
	out, err := rule.Apply(cell)
	if err != nil {
		return cell, err
	}
	if c.PostProcessing == "" {
		return out, nil
	}
	post, ok := r.rules[c.PostProcessing]
	if !ok {
		return cell, fmt.Errorf("%w: unknown type %q", ErrCorruptSchema, c.PostProcessing)
	}
	out, err = post.Apply(out)
	if err != nil {
		return cell, err
	}
	return out, nil
}
