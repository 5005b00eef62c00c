package catalog

import (
	"fmt"
	"sort"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"github.com/google/uuid"
)

// Candidate is a pre-aggregation prepared for matching: member sets are
// precomputed so the matcher never walks the cube again.
type Candidate struct {
	Ref   model.Ref                `json:"ref"`
	Kind  model.PreAggregationKind `json:"kind"`
	Index int                      `json:"index"`

	Measures      []string                `json:"measures,omitempty"`
	Dimensions    []string                `json:"dimensions,omitempty"`
	TimeDimension string                  `json:"time_dimension,omitempty"`
	Granularity   granularity.Granularity `json:"granularity,omitempty"`

	// Scope is the set of cubes the candidate was declared over: its own
	// cube plus the cube of every listed member.
	Scope []string `json:"scope"`

	measureSet   map[string]bool
	dimensionSet map[string]bool
	scopeSet     map[string]bool
}

// HasMeasure reports whether id is part of the candidate's measure set.
func (c *Candidate) HasMeasure(id string) bool { return c.measureSet[id] }

// HasDimension reports whether id is part of the candidate's dimension set.
func (c *Candidate) HasDimension(id string) bool { return c.dimensionSet[id] }

// InScope reports whether cube is part of the candidate's declared scope.
func (c *Candidate) InScope(cube string) bool { return c.scopeSet[cube] }

// Snapshot is one immutable, fully validated version of the data model.
// All derived structures (join paths, measure classes, candidate lists) are
// computed in Build and only read afterwards, so a Snapshot can be shared by
// any number of goroutines without locking.
type Snapshot struct {
	version     string
	fingerprint string
	builtAt     time.Time

	cubes      []*model.Cube
	cubeByName map[string]*model.Cube
	measures   map[string]*model.Measure
	dimensions map[string]*model.Dimension

	graph      *joinGraph
	classifier *Classifier

	// candidates per cube, rollups first, each group in declaration order.
	candidates map[string][]*Candidate
	warnings   []*model.ValidationError
}

// Build validates cubes and derives a snapshot. Every defect is collected
// and returned together as ErrInvalidDataModel. Callers must not mutate the
// cubes afterwards.
func Build(cubes []*model.Cube, fingerprint string) (*Snapshot, error) {
	s := &Snapshot{
		version:     uuid.NewString(),
		fingerprint: fingerprint,
		builtAt:     time.Now().UTC(),
		cubes:       make([]*model.Cube, 0, len(cubes)),
		cubeByName:  make(map[string]*model.Cube, len(cubes)),
		measures:    make(map[string]*model.Measure),
		dimensions:  make(map[string]*model.Dimension),
		candidates:  make(map[string][]*Candidate, len(cubes)),
	}

	var errs []*model.ValidationError
	for _, c := range cubes {
		if c == nil {
			continue
		}
		if _, dup := s.cubeByName[c.Name]; dup {
			errs = append(errs, model.Invalidf(c.Name, "", "duplicate cube name"))
			continue
		}
		s.cubes = append(s.cubes, c)
		s.cubeByName[c.Name] = c
		errs = append(errs, s.indexMembers(c)...)
	}
	if len(errs) > 0 {
		return nil, model.Collect(errs)
	}

	for _, c := range s.cubes {
		errs = append(errs, s.checkReferences(c)...)
	}

	graph, graphErrs := buildJoinGraph(s.cubes)
	errs = append(errs, graphErrs...)
	if len(errs) > 0 {
		return nil, model.Collect(errs)
	}
	s.graph = graph

	classifier, cycleErrs := newClassifier(s.cubes, s.measures, graph)
	if len(cycleErrs) > 0 {
		return nil, model.Collect(cycleErrs)
	}
	s.classifier = classifier

	for _, c := range s.cubes {
		cands, candErrs := s.prepareCandidates(c)
		errs = append(errs, candErrs...)
		s.candidates[c.Name] = cands
	}
	if len(errs) > 0 {
		return nil, model.Collect(errs)
	}
	return s, nil
}

func (s *Snapshot) indexMembers(c *model.Cube) []*model.ValidationError {
	var errs []*model.ValidationError
	seen := map[string]bool{}
	for i := range c.Measures {
		m := &c.Measures[i]
		if seen[m.Name] {
			errs = append(errs, model.Invalidf(c.Name, m.Name, "duplicate member name"))
			continue
		}
		seen[m.Name] = true
		if !m.Kind.Valid() {
			errs = append(errs, model.Invalidf(c.Name, m.Name, "unsupported measure type %q", m.Kind))
		}
		s.measures[model.MemberID(c.Name, m.Name)] = m
	}
	for i := range c.Dimensions {
		d := &c.Dimensions[i]
		if seen[d.Name] {
			errs = append(errs, model.Invalidf(c.Name, d.Name, "duplicate member name"))
			continue
		}
		seen[d.Name] = true
		if !d.Type.Valid() {
			errs = append(errs, model.Invalidf(c.Name, d.Name, "unsupported dimension type %q", d.Type))
		}
		s.dimensions[model.MemberID(c.Name, d.Name)] = d
	}
	return errs
}

// checkReferences verifies that every measure dependency resolves to a
// known member.
func (s *Snapshot) checkReferences(c *model.Cube) []*model.ValidationError {
	var errs []*model.ValidationError
	for _, m := range c.Measures {
		for _, ref := range m.References {
			if !s.hasMember(ref) {
				errs = append(errs, model.Invalidf(c.Name, m.Name, "references unknown member %q", ref))
			}
		}
	}
	return errs
}

func (s *Snapshot) prepareCandidates(c *model.Cube) ([]*Candidate, []*model.ValidationError) {
	var (
		errs        []*model.ValidationError
		rollups     []*Candidate
		originalSQL []*Candidate
	)
	names := map[string]bool{}

	for _, p := range c.PreAggregations {
		if names[p.Name] {
			errs = append(errs, model.Invalidf(c.Name, p.Name, "duplicate pre-aggregation name"))
			continue
		}
		names[p.Name] = true

		cand, candErrs, excluded := s.prepareCandidate(c, p)
		errs = append(errs, candErrs...)
		if cand == nil || excluded {
			continue
		}
		switch p.Kind {
		case model.KindRollup:
			rollups = append(rollups, cand)
		case model.KindOriginalSQL:
			originalSQL = append(originalSQL, cand)
		default:
			errs = append(errs, model.Invalidf(c.Name, p.Name, "unsupported pre-aggregation type %q", p.Kind))
		}
	}

	byIndex := func(list []*Candidate) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	}
	byIndex(rollups)
	byIndex(originalSQL)
	return append(rollups, originalSQL...), errs
}

// prepareCandidate resolves a pre-aggregation's members. A rollup that lists
// an exact count_distinct measure is structurally valid but can never serve a
// query; it is reported as a warning and excluded.
func (s *Snapshot) prepareCandidate(c *model.Cube, p model.PreAggregation) (*Candidate, []*model.ValidationError, bool) {
	var errs []*model.ValidationError
	cand := &Candidate{
		Ref:           c.Ref(p),
		Kind:          p.Kind,
		Index:         p.Index,
		TimeDimension: p.TimeDimension,
		Granularity:   p.Granularity,
		measureSet:    map[string]bool{},
		dimensionSet:  map[string]bool{},
		scopeSet:      map[string]bool{c.Name: true},
	}
	excluded := false

	for _, id := range p.Measures {
		m, ok := s.measures[id]
		if !ok {
			errs = append(errs, model.Invalidf(c.Name, p.Name, "unknown measure %q", id))
			continue
		}
		if p.Kind == model.KindRollup && m.Kind == model.KindCountDistinct {
			s.warnings = append(s.warnings, model.Invalidf(c.Name, p.Name,
				"measure %q is an exact count_distinct and cannot be pre-aggregated; use count_distinct_approx", id))
			excluded = true
		}
		if cand.measureSet[id] {
			continue
		}
		cand.measureSet[id] = true
		cand.Measures = append(cand.Measures, id)
		cube, _ := model.SplitMemberID(id)
		cand.scopeSet[cube] = true
	}

	for _, id := range p.Dimensions {
		if _, ok := s.dimensions[id]; !ok {
			errs = append(errs, model.Invalidf(c.Name, p.Name, "unknown dimension %q", id))
			continue
		}
		if cand.dimensionSet[id] {
			continue
		}
		cand.dimensionSet[id] = true
		cand.Dimensions = append(cand.Dimensions, id)
		cube, _ := model.SplitMemberID(id)
		cand.scopeSet[cube] = true
	}

	if p.TimeDimension != "" {
		d, ok := s.dimensions[p.TimeDimension]
		switch {
		case !ok:
			errs = append(errs, model.Invalidf(c.Name, p.Name, "unknown time dimension %q", p.TimeDimension))
		case d.Type != model.TypeTime:
			errs = append(errs, model.Invalidf(c.Name, p.Name, "time dimension %q has type %s, want time", p.TimeDimension, d.Type))
		case !p.Granularity.Valid():
			errs = append(errs, model.Invalidf(c.Name, p.Name, "time dimension %q requires a granularity", p.TimeDimension))
		default:
			cube, _ := model.SplitMemberID(p.TimeDimension)
			cand.scopeSet[cube] = true
		}
	} else if p.Granularity != granularity.None {
		errs = append(errs, model.Invalidf(c.Name, p.Name, "granularity %s requires a time dimension", p.Granularity))
	}

	for cube := range cand.scopeSet {
		if cube == c.Name {
			continue
		}
		if s.graph.Path(c.Name, cube) == nil {
			errs = append(errs, model.Invalidf(c.Name, p.Name, "cube %q is not joined to %q", cube, c.Name))
		}
	}

	sort.Strings(cand.Measures)
	sort.Strings(cand.Dimensions)
	cand.Scope = sortedKeys(cand.scopeSet)

	if len(errs) > 0 {
		return nil, errs, false
	}
	return cand, nil, excluded
}

func (s *Snapshot) hasMember(id string) bool {
	if _, ok := s.measures[id]; ok {
		return true
	}
	_, ok := s.dimensions[id]
	return ok
}

// Version is the unique id assigned when the snapshot was built.
func (s *Snapshot) Version() string { return s.version }

// Fingerprint identifies the source content the snapshot was built from.
func (s *Snapshot) Fingerprint() string { return s.fingerprint }

// BuiltAt is the build time in UTC.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Cubes returns the cubes in declaration order.
func (s *Snapshot) Cubes() []*model.Cube {
	return append([]*model.Cube(nil), s.cubes...)
}

// Cube looks up a cube by name.
func (s *Snapshot) Cube(name string) (*model.Cube, error) {
	c, ok := s.cubeByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrCubeNotFound, name)
	}
	return c, nil
}

// Measure looks up a measure by qualified id.
func (s *Snapshot) Measure(id string) (*model.Measure, bool) {
	m, ok := s.measures[id]
	return m, ok
}

// Dimension looks up a dimension by qualified id.
func (s *Snapshot) Dimension(id string) (*model.Dimension, bool) {
	d, ok := s.dimensions[id]
	return d, ok
}

// Classify returns the classification of measure id relative to anchor.
func (s *Snapshot) Classify(anchor, id string) (Classification, error) {
	return s.classifier.Classify(anchor, id)
}

// JoinPath returns the shortest join path from anchor to target, or nil
// when the cubes are not connected.
func (s *Snapshot) JoinPath(anchor, target string) *JoinPath {
	if anchor == target {
		if _, ok := s.cubeByName[anchor]; ok {
			return &JoinPath{}
		}
		return nil
	}
	return s.graph.Path(anchor, target)
}

// PreAggregations lists the candidates declared on the named cubes, filtered
// by kind (all kinds when none are given). Rollups always precede
// original_sql candidates; within each group cubes keep catalog order and
// candidates keep declaration order. Unknown cube names are ignored.
func (s *Snapshot) PreAggregations(cubes []string, kinds ...model.PreAggregationKind) []*Candidate {
	want := map[string]bool{}
	for _, c := range cubes {
		want[c] = true
	}
	allow := func(k model.PreAggregationKind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, kk := range kinds {
			if kk == k {
				return true
			}
		}
		return false
	}

	var out []*Candidate
	for _, kind := range []model.PreAggregationKind{model.KindRollup, model.KindOriginalSQL} {
		if !allow(kind) {
			continue
		}
		for _, c := range s.cubes {
			if !want[c.Name] {
				continue
			}
			for _, cand := range s.candidates[c.Name] {
				if cand.Kind == kind {
					out = append(out, cand)
				}
			}
		}
	}
	return out
}

// PreAggregation looks up a matchable candidate by reference.
func (s *Snapshot) PreAggregation(ref model.Ref) (*Candidate, bool) {
	for _, cand := range s.candidates[ref.Cube] {
		if cand.Ref == ref {
			return cand, true
		}
	}
	return nil, false
}

// AllPreAggregations lists every matchable candidate in the catalog.
func (s *Snapshot) AllPreAggregations() []*Candidate {
	names := make([]string, len(s.cubes))
	for i, c := range s.cubes {
		names[i] = c.Name
	}
	return s.PreAggregations(names)
}

// Warnings lists non-fatal defects found while building, such as rollups
// that can never be matched.
func (s *Snapshot) Warnings() []*model.ValidationError {
	return append([]*model.ValidationError(nil), s.warnings...)
}

// PreAggregationCount is the number of matchable candidates.
func (s *Snapshot) PreAggregationCount() int {
	n := 0
	for _, list := range s.candidates {
		n += len(list)
	}
	return n
}
