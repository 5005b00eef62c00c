package yaml

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"gopkg.in/yaml.v3"
)

// CubeSpec is the on-disk shape of one cube definition file.
//
//	cube: orders
//	sql_table: public.orders
//	measures:
//	  count: count
//	  total_amount:
//	    type: sum
//	    sql: amount
//	dimensions:
//	  status: string
//	  completed_at: time
//	joins:
//	  line_items: one_to_many
//	pre_aggregations:
//	  orders_by_completed_at:
//	    measures: [count]
//	    time_dimension: completed_at
//	    granularity: month
type CubeSpec struct {
	Cube            string                       `yaml:"cube"`
	SQLTable        string                       `yaml:"sql_table,omitempty"`
	Measures        ordered[*MeasureSpec]        `yaml:"measures"`
	Dimensions      ordered[*DimensionSpec]      `yaml:"dimensions"`
	Joins           ordered[*JoinSpec]           `yaml:"joins"`
	PreAggregations ordered[*PreAggregationSpec] `yaml:"pre_aggregations"`
}

// MeasureSpec declares a measure. Shorthand form is the bare type name.
type MeasureSpec struct {
	Type       string   `yaml:"type"`
	SQL        string   `yaml:"sql,omitempty"`
	References []string `yaml:"references,omitempty"`
}

// UnmarshalYAML accepts both `count: count` and the long mapping form.
func (m *MeasureSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		m.Type = value.Value
		return nil
	}
	type measureAlias MeasureSpec
	var alias measureAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*m = MeasureSpec(alias)
	if m.Type == "" {
		return fmt.Errorf("measure missing 'type'")
	}
	return nil
}

// DimensionSpec declares a dimension. Shorthand form is the bare type name.
type DimensionSpec struct {
	Type string `yaml:"type"`
	SQL  string `yaml:"sql,omitempty"`
}

// UnmarshalYAML accepts both `status: string` and the long mapping form.
func (d *DimensionSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		d.Type = value.Value
		return nil
	}
	type dimensionAlias DimensionSpec
	var alias dimensionAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*d = DimensionSpec(alias)
	if d.Type == "" {
		return fmt.Errorf("dimension missing 'type'")
	}
	return nil
}

// JoinSpec declares a join keyed by the joined cube. Shorthand form is the
// bare relationship name.
type JoinSpec struct {
	Relationship string `yaml:"relationship"`
	SQL          string `yaml:"sql,omitempty"`
}

// UnmarshalYAML accepts both `line_items: one_to_many` and the long form.
func (j *JoinSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		j.Relationship = value.Value
		return nil
	}
	type joinAlias JoinSpec
	var alias joinAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*j = JoinSpec(alias)
	return nil
}

// PreAggregationSpec declares a pre-aggregation keyed by its name.
type PreAggregationSpec struct {
	Type          string   `yaml:"type,omitempty"` // rollup (default) | original_sql
	Measures      []string `yaml:"measures,omitempty"`
	Dimensions    []string `yaml:"dimensions,omitempty"`
	TimeDimension string   `yaml:"time_dimension,omitempty"`
	Granularity   string   `yaml:"granularity,omitempty"`
}

// ordered decodes a YAML mapping while keeping author declaration order,
// which is load-bearing for pre-aggregation scan order.
type ordered[T any] []entry[T]

type entry[T any] struct {
	Name  string
	Value T
}

func (o *ordered[T]) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*o = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", value.Line)
	}
	seen := make(map[string]bool, len(value.Content)/2)
	out := make(ordered[T], 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		if seen[key] {
			return fmt.Errorf("line %d: duplicate key %q", value.Content[i].Line, key)
		}
		seen[key] = true

		var v T
		if err := value.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, entry[T]{Name: key, Value: v})
	}
	*o = out
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// referencePattern matches {member} and {cube.member} tokens in SQL.
var referencePattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)?)\}`)

// Validate checks the cube definition for structural errors. Cross-cube
// references are checked later, when the catalog is built.
func (s *CubeSpec) Validate() error {
	if s.Cube == "" {
		return fmt.Errorf("cube name is required")
	}
	if !identifierPattern.MatchString(s.Cube) {
		return fmt.Errorf("cube name %q is not a valid identifier", s.Cube)
	}
	if len(s.Measures) == 0 && len(s.Dimensions) == 0 {
		return fmt.Errorf("cube must define at least one measure or dimension")
	}

	for _, m := range s.Measures {
		if !identifierPattern.MatchString(m.Name) {
			return fmt.Errorf("measure %q is not a valid identifier", m.Name)
		}
		if m.Value == nil {
			return fmt.Errorf("measure %q: type cannot be empty", m.Name)
		}
		if !model.MeasureKind(m.Value.Type).Valid() {
			return fmt.Errorf("measure %q: unsupported type %q (must be: count, sum, min, max, count_distinct, count_distinct_approx, number)", m.Name, m.Value.Type)
		}
		if model.MeasureKind(m.Value.Type) == model.KindNumber && m.Value.SQL == "" {
			return fmt.Errorf("measure %q: number measures require sql", m.Name)
		}
	}

	for _, d := range s.Dimensions {
		if !identifierPattern.MatchString(d.Name) {
			return fmt.Errorf("dimension %q is not a valid identifier", d.Name)
		}
		if d.Value == nil || !model.DimensionType(d.Value.Type).Valid() {
			return fmt.Errorf("dimension %q: unsupported type (must be: number, string, time, boolean)", d.Name)
		}
	}

	for _, j := range s.Joins {
		if j.Value == nil || !model.Relationship(j.Value.Relationship).Valid() {
			return fmt.Errorf("join %q: relationship must be one_to_one, one_to_many, many_to_one or many_to_many", j.Name)
		}
	}

	for _, p := range s.PreAggregations {
		if p.Value == nil {
			return fmt.Errorf("pre-aggregation %q: definition cannot be empty", p.Name)
		}
		if err := p.Value.validate(); err != nil {
			return fmt.Errorf("pre-aggregation %q: %w", p.Name, err)
		}
	}

	return nil
}

func (p *PreAggregationSpec) kind() model.PreAggregationKind {
	if p.Type == "" {
		return model.KindRollup
	}
	return model.PreAggregationKind(p.Type)
}

func (p *PreAggregationSpec) validate() error {
	if !p.kind().Valid() {
		return fmt.Errorf("unsupported type %q (must be: rollup, original_sql)", p.Type)
	}
	g, err := granularity.Parse(p.Granularity)
	if err != nil {
		return err
	}
	if p.TimeDimension != "" && g == granularity.None {
		return fmt.Errorf("time_dimension requires a granularity")
	}
	if p.TimeDimension == "" && g != granularity.None {
		return fmt.Errorf("granularity requires a time_dimension")
	}
	if p.kind() == model.KindRollup && len(p.Measures) == 0 && len(p.Dimensions) == 0 && p.TimeDimension == "" {
		return fmt.Errorf("rollup must reference at least one member")
	}
	return nil
}

// extractReferences collects the member identifiers referenced by a measure:
// {token}s in its SQL plus any explicit references. {CUBE} is the table
// alias placeholder and is not a reference.
func extractReferences(cube string, m *MeasureSpec) []string {
	seen := map[string]bool{}
	var refs []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "CUBE" || strings.HasPrefix(raw, "CUBE.") {
			return
		}
		id := model.Qualify(cube, raw)
		if seen[id] {
			return
		}
		seen[id] = true
		refs = append(refs, id)
	}
	for _, match := range referencePattern.FindAllStringSubmatch(m.SQL, -1) {
		add(match[1])
	}
	for _, r := range m.References {
		add(r)
	}
	return refs
}
