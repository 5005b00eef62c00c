package selection

import (
	"sort"
	"strings"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
)

var filterOperators = map[string]bool{
	"equals":         true,
	"notEquals":      true,
	"contains":       true,
	"notContains":    true,
	"startsWith":     true,
	"endsWith":       true,
	"gt":             true,
	"gte":            true,
	"lt":             true,
	"lte":            true,
	"set":            false,
	"notSet":         false,
	"inDateRange":    true,
	"notInDateRange": true,
	"beforeDate":     true,
	"afterDate":      true,
}

// NormalizedQuery is the canonical, comparable form of a Query: every
// identifier is qualified and every member list is a sorted set.
type NormalizedQuery struct {
	Anchor string `json:"anchor"`

	Measures         []string `json:"measures,omitempty"`
	Dimensions       []string `json:"dimensions,omitempty"`
	FilterDimensions []string `json:"filter_dimensions,omitempty"`

	TimeDimension  string                  `json:"time_dimension,omitempty"`
	Granularity    granularity.Granularity `json:"granularity,omitempty"`
	HasGranularity bool                    `json:"has_granularity"`
	DateRange      *granularity.DateRange  `json:"date_range,omitempty"`

	// Cubes lists every cube a member belongs to, sorted.
	Cubes []string `json:"cubes"`

	dimensionSet map[string]bool
}

// HasTimeDimension reports whether the query references a time dimension.
func (q *NormalizedQuery) HasTimeDimension() bool {
	return q.TimeDimension != ""
}

// FiltersInDimensions reports whether every filter dimension is also a
// selected dimension.
func (q *NormalizedQuery) FiltersInDimensions() bool {
	for _, f := range q.FilterDimensions {
		if !q.dimensionSet[f] {
			return false
		}
	}
	return true
}

// Key is a stable string identifying the normalized query.
func (q *NormalizedQuery) Key() string {
	var b strings.Builder
	b.WriteString(q.Anchor)
	b.WriteString("|m:")
	b.WriteString(strings.Join(q.Measures, ","))
	b.WriteString("|d:")
	b.WriteString(strings.Join(q.Dimensions, ","))
	b.WriteString("|f:")
	b.WriteString(strings.Join(q.FilterDimensions, ","))
	b.WriteString("|t:")
	b.WriteString(q.TimeDimension)
	b.WriteString("/")
	b.WriteString(q.Granularity.String())
	if q.DateRange != nil {
		b.WriteString("/")
		b.WriteString(q.DateRange.Start.UTC().Format(time.RFC3339Nano))
		b.WriteString("/")
		b.WriteString(q.DateRange.End.UTC().Format(time.RFC3339Nano))
	}
	return b.String()
}

// Normalize canonicalizes q against snap. It performs no I/O and fails with
// ErrInvalidQuery for anything the matcher could not reason about.
func Normalize(snap *catalog.Snapshot, q Query) (*NormalizedQuery, error) {
	if len(q.Measures) == 0 && len(q.Dimensions) == 0 && len(q.TimeDimensions) == 0 {
		return nil, invalidQueryf("query must request at least one measure, dimension or time dimension")
	}
	if len(q.TimeDimensions) > 1 {
		return nil, invalidQueryf("at most one time dimension is supported, got %d", len(q.TimeDimensions))
	}

	anchor, err := resolveAnchor(snap, q)
	if err != nil {
		return nil, err
	}

	nq := &NormalizedQuery{Anchor: anchor}
	measures := map[string]bool{}
	dimensions := map[string]bool{}
	filters := map[string]bool{}
	cubes := map[string]bool{anchor: true}

	for _, raw := range q.Measures {
		id, err := qualify(anchor, raw)
		if err != nil {
			return nil, err
		}
		if _, ok := snap.Measure(id); !ok {
			return nil, invalidQueryf("unknown measure %q", id)
		}
		measures[id] = true
	}

	for _, raw := range q.Dimensions {
		id, err := qualify(anchor, raw)
		if err != nil {
			return nil, err
		}
		if _, ok := snap.Dimension(id); !ok {
			return nil, invalidQueryf("unknown dimension %q", id)
		}
		dimensions[id] = true
	}

	if len(q.TimeDimensions) == 1 {
		td := q.TimeDimensions[0]
		id, err := qualify(anchor, td.Dimension)
		if err != nil {
			return nil, err
		}
		d, ok := snap.Dimension(id)
		if !ok {
			return nil, invalidQueryf("unknown time dimension %q", id)
		}
		if d.Type != model.TypeTime {
			return nil, invalidQueryf("dimension %q has type %s and cannot be used as a time dimension", id, d.Type)
		}
		if td.Granularity != granularity.None && !td.Granularity.Valid() {
			return nil, invalidQueryf("unknown granularity for %q", id)
		}
		if td.DateRange != nil {
			if err := td.DateRange.Validate(); err != nil {
				return nil, invalidQueryf("%s", err)
			}
			r := *td.DateRange
			nq.DateRange = &r
		}
		if td.Granularity == granularity.None && td.DateRange == nil {
			return nil, invalidQueryf("time dimension %q needs a granularity or a date range", id)
		}
		nq.TimeDimension = id
		nq.Granularity = td.Granularity
		nq.HasGranularity = td.Granularity != granularity.None
	}

	for _, f := range q.Filters {
		id, err := qualify(anchor, f.Member)
		if err != nil {
			return nil, err
		}
		needsValues, known := filterOperators[f.Operator]
		if !known {
			return nil, invalidQueryf("unsupported filter operator %q on %q", f.Operator, id)
		}
		if needsValues && len(f.Values) == 0 {
			return nil, invalidQueryf("filter %s on %q requires values", f.Operator, id)
		}
		switch {
		case isMeasure(snap, id):
			measures[id] = true
		case isDimension(snap, id):
			// A range filter on the selected time dimension is carried by
			// the time dimension itself.
			if id != nq.TimeDimension {
				filters[id] = true
			}
		default:
			return nil, invalidQueryf("unknown filter member %q", id)
		}
	}

	for id := range measures {
		cube, _ := model.SplitMemberID(id)
		cubes[cube] = true
	}
	for id := range dimensions {
		cube, _ := model.SplitMemberID(id)
		cubes[cube] = true
	}
	for id := range filters {
		cube, _ := model.SplitMemberID(id)
		cubes[cube] = true
	}
	if nq.TimeDimension != "" {
		cube, _ := model.SplitMemberID(nq.TimeDimension)
		cubes[cube] = true
	}
	for cube := range cubes {
		if snap.JoinPath(anchor, cube) == nil {
			return nil, invalidQueryf("cube %q cannot be joined to %q", cube, anchor)
		}
	}

	nq.Measures = setToSorted(measures)
	nq.Dimensions = setToSorted(dimensions)
	nq.FilterDimensions = setToSorted(filters)
	nq.Cubes = setToSorted(cubes)
	nq.dimensionSet = dimensions
	return nq, nil
}

// resolveAnchor picks the query's primary cube from the set of qualified
// members, so it does not depend on the order they were listed in. The
// candidates are the measure cubes, else the dimension cubes, else the time
// dimension's cube; see rootCube for the choice among them. Bare names are
// qualified against the anchor afterwards, and a query made only of bare
// names needs a single-cube catalog.
func resolveAnchor(snap *catalog.Snapshot, q Query) (string, error) {
	var timeDims []string
	for _, td := range q.TimeDimensions {
		timeDims = append(timeDims, td.Dimension)
	}

	for _, tier := range [][]string{q.Measures, q.Dimensions, timeDims} {
		cubes := map[string]bool{}
		for _, raw := range tier {
			cube, member := model.SplitMemberID(raw)
			if member == "" {
				return "", invalidQueryf("empty member identifier")
			}
			if strings.Contains(member, ".") {
				return "", invalidQueryf("malformed member identifier %q", raw)
			}
			if cube == "" {
				continue
			}
			if _, err := snap.Cube(cube); err != nil {
				return "", invalidQueryf("unknown cube %q", cube)
			}
			cubes[cube] = true
		}
		if len(cubes) > 0 {
			return rootCube(snap, cubes), nil
		}
	}

	all := snap.Cubes()
	if len(all) != 1 {
		return "", invalidQueryf("members must be qualified as cube.member")
	}
	return all[0].Name, nil
}

// rootCube returns the first cube, in catalog order, that no other cube of
// the set reaches through a one_to_many edge. Rooting the join tree on the
// "one" side keeps every fanned-out measure Multiplied. When every cube is
// fanned into from another, catalog order alone decides.
func rootCube(snap *catalog.Snapshot, set map[string]bool) string {
	var ordered []string
	for _, c := range snap.Cubes() {
		if set[c.Name] {
			ordered = append(ordered, c.Name)
		}
	}

	for _, c := range ordered {
		root := true
		for _, other := range ordered {
			if other != c && snap.JoinPath(other, c).Multiplied() {
				root = false
				break
			}
		}
		if root {
			return c
		}
	}
	return ordered[0]
}

func qualify(anchor, raw string) (string, error) {
	cube, member := model.SplitMemberID(raw)
	if member == "" || strings.Contains(member, ".") {
		return "", invalidQueryf("malformed member identifier %q", raw)
	}
	if cube == "" {
		cube = anchor
	}
	return model.MemberID(cube, member), nil
}

func isMeasure(snap *catalog.Snapshot, id string) bool {
	_, ok := snap.Measure(id)
	return ok
}

func isDimension(snap *catalog.Snapshot, id string) bool {
	_, ok := snap.Dimension(id)
	return ok
}

func setToSorted(set map[string]bool) []string {
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
