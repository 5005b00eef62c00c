package catalog

import (
	"fmt"
	"sort"

	"github.com/aevon-lab/aevon-rollups/internal/model"
)

// MeasureClass is the additivity class of a measure. Multiplication is
// tracked separately on Classification because it depends on the query's
// anchor cube and can coexist with Calculated.
type MeasureClass int

const (
	// AdditiveLeaf: count, sum, min, max or count_distinct_approx with no
	// dependencies. Partial aggregates combine without raw rows.
	AdditiveLeaf MeasureClass = iota
	// NonAdditiveLeaf: exact count_distinct, or any other kind outside the
	// additive set, with no dependencies.
	NonAdditiveLeaf
	// Calculated: references another measure or dimension.
	Calculated
)

func (c MeasureClass) String() string {
	switch c {
	case AdditiveLeaf:
		return "additive_leaf"
	case NonAdditiveLeaf:
		return "non_additive_leaf"
	case Calculated:
		return "calculated"
	default:
		return fmt.Sprintf("measure_class(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c MeasureClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classification is the derived view of one measure relative to an anchor cube.
type Classification struct {
	Measure    string            `json:"measure"`
	Kind       model.MeasureKind `json:"kind"`
	Class      MeasureClass      `json:"class"`
	Multiplied bool              `json:"multiplied"`

	// Dependencies are the direct member references of the measure.
	Dependencies []string `json:"dependencies,omitempty"`

	// LeafMeasures are the measures without dependencies reached transitively.
	LeafMeasures []string `json:"leaf_measures,omitempty"`

	// MultiplyingJoins are the fan-out edges between the anchor and the
	// measure's cube; empty unless Multiplied.
	MultiplyingJoins []JoinEdge `json:"multiplying_joins,omitempty"`
}

// IsAdditiveLeaf reports whether the measure can be served from any rollup
// whose measure set covers it.
func (c Classification) IsAdditiveLeaf() bool {
	return c.Class == AdditiveLeaf && !c.Multiplied
}

// Classifier holds the anchor-independent classification of every measure.
// It is computed once per snapshot and only read afterwards.
type Classifier struct {
	base  map[string]Classification
	graph *joinGraph
}

// newClassifier classifies every measure and rejects dependency cycles.
// Only measure-to-measure references can form a cycle; dimension references
// are terminal.
func newClassifier(cubes []*model.Cube, measures map[string]*model.Measure, graph *joinGraph) (*Classifier, []*model.ValidationError) {
	var errs []*model.ValidationError

	const (
		unvisited = iota
		visiting
		done
	)
	color := make(map[string]int, len(measures))
	leaves := make(map[string][]string, len(measures))

	var visit func(id string, stack []string) bool
	visit = func(id string, stack []string) bool {
		switch color[id] {
		case visiting:
			cube, member := model.SplitMemberID(id)
			errs = append(errs, model.Invalidf(cube, member, "cyclic measure dependency: %v", append(stack, id)))
			return false
		case done:
			return true
		}
		color[id] = visiting

		m := measures[id]
		set := map[string]bool{}
		ok := true
		for _, dep := range m.References {
			if _, isMeasure := measures[dep]; !isMeasure {
				continue
			}
			if !visit(dep, append(stack, id)) {
				ok = false
				continue
			}
			if len(leaves[dep]) == 0 {
				set[dep] = true
			}
			for _, leaf := range leaves[dep] {
				set[leaf] = true
			}
		}
		leaves[id] = sortedKeys(set)
		color[id] = done
		return ok
	}

	c := &Classifier{
		base:  make(map[string]Classification, len(measures)),
		graph: graph,
	}
	for _, cube := range cubes {
		for i := range cube.Measures {
			id := model.MemberID(cube.Name, cube.Measures[i].Name)
			if !visit(id, nil) {
				continue
			}
			c.base[id] = classify(id, &cube.Measures[i], leaves[id])
		}
	}
	return c, errs
}

// classify applies the kind-first rule, then lets dependencies override it.
func classify(id string, m *model.Measure, leaves []string) Classification {
	cl := Classification{
		Measure:      id,
		Kind:         m.Kind,
		Class:        NonAdditiveLeaf,
		Dependencies: append([]string(nil), m.References...),
		LeafMeasures: leaves,
	}
	if m.Kind.Additive() {
		cl.Class = AdditiveLeaf
	}
	if len(m.References) > 0 {
		cl.Class = Calculated
	}
	return cl
}

// Classify returns the classification of measure id for a query anchored at
// anchor. The multiplied flag is an O(1) lookup into the join path table.
func (c *Classifier) Classify(anchor, id string) (Classification, error) {
	cl, ok := c.base[id]
	if !ok {
		return Classification{}, fmt.Errorf("unknown measure %q", id)
	}
	cube, _ := model.SplitMemberID(id)
	if cube == anchor {
		return cl, nil
	}
	path := c.graph.Path(anchor, cube)
	if path == nil {
		return Classification{}, fmt.Errorf("no join path from %q to %q", anchor, cube)
	}
	if path.Multiplied() {
		cl.Multiplied = true
		cl.MultiplyingJoins = path.Multiplying
	}
	return cl, nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
