package selection

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
)

// Match decides whether any pre-aggregation can answer q exactly.
//
// Rollups are scanned first in declaration order, then original_sql
// candidates when no rollup qualifies. The first eligible candidate wins;
// later ones are never considered. Match holds no state and performs no
// I/O, so the same snapshot and query always produce the same result.
func Match(snap *catalog.Snapshot, q *NormalizedQuery, opts Options) (*Result, error) {
	m, err := newMatcher(snap, q)
	if err != nil {
		return nil, err
	}
	return m.run(opts), nil
}

type matcher struct {
	snap *catalog.Snapshot
	q    *NormalizedQuery

	classes      []catalog.Classification
	leafAdditive bool

	// multiplying holds every fan-out edge between the anchor and a
	// multiplied measure's cube.
	multiplying []catalog.JoinEdge

	// dependencyCubes are the cubes reached through measure dependencies,
	// sorted.
	dependencyCubes []string
}

func newMatcher(snap *catalog.Snapshot, q *NormalizedQuery) (*matcher, error) {
	m := &matcher{
		snap:         snap,
		q:            q,
		leafAdditive: true,
	}
	depCubes := map[string]bool{}
	seenEdge := map[catalog.JoinEdge]bool{}
	for _, id := range q.Measures {
		cl, err := snap.Classify(q.Anchor, id)
		if err != nil {
			return nil, fmt.Errorf("classifying %s: %w", id, err)
		}
		m.classes = append(m.classes, cl)
		if !cl.IsAdditiveLeaf() {
			m.leafAdditive = false
		}
		for _, e := range cl.MultiplyingJoins {
			if !seenEdge[e] {
				seenEdge[e] = true
				m.multiplying = append(m.multiplying, e)
			}
		}
		for _, dep := range append(append([]string(nil), cl.Dependencies...), cl.LeafMeasures...) {
			cube, _ := model.SplitMemberID(dep)
			depCubes[cube] = true
		}
	}
	m.dependencyCubes = setToSorted(depCubes)
	return m, nil
}

func (m *matcher) run(opts Options) *Result {
	res := &Result{
		CatalogVersion:      m.snap.Version(),
		LeafMeasureAdditive: m.leafAdditive,
		Query:               m.q,
		Classifications:     m.classes,
	}
	if opts.DisableRollups && opts.DisableOriginalSQL {
		res.Reason = ReasonSelectionDisabled
		return res
	}

	// The exact-branch preconditions hold for the query as a whole, so they
	// disqualify every candidate of both passes alike.
	gate, gateReject := m.queryGate()

	considered := 0
	scan := func(cands []*catalog.Candidate, check func(*catalog.Candidate) (granularity.Granularity, *Rejection)) (*catalog.Candidate, granularity.Granularity) {
		considered += len(cands)
		for _, c := range cands {
			if gate != "" {
				res.Rejections = append(res.Rejections, Rejection{PreAggregation: c.Ref, Reason: gateReject})
				continue
			}
			eff, rej := check(c)
			if rej != nil {
				res.Rejections = append(res.Rejections, *rej)
				continue
			}
			return c, eff
		}
		return nil, granularity.None
	}

	if !opts.DisableRollups {
		if c, eff := scan(m.snap.PreAggregations(m.q.Cubes, model.KindRollup), m.checkRollup); c != nil {
			return m.matched(res, c, eff)
		}
	}
	if !opts.DisableOriginalSQL {
		if c, eff := scan(m.snap.PreAggregations(m.q.Cubes, model.KindOriginalSQL), m.checkOriginalSQL); c != nil {
			return m.matched(res, c, eff)
		}
	}

	switch {
	case considered == 0:
		res.Reason = ReasonNoCandidates
	case gate != "":
		res.Reason = gate
	default:
		res.Reason = ReasonNoEligibleCandidate
	}
	return res
}

// queryGate applies the query-level preconditions of the exact branch.
func (m *matcher) queryGate() (Reason, RejectReason) {
	if m.leafAdditive {
		return "", ""
	}
	if !m.q.HasGranularity {
		return ReasonTimeGranularityRequired, RejectTimeGranularityMissing
	}
	if !m.q.FiltersInDimensions() {
		return ReasonFiltersNotInDimensions, RejectFiltersNotInDimensions
	}
	return "", ""
}

func (m *matcher) matched(res *Result, c *catalog.Candidate, eff granularity.Granularity) *Result {
	ref := c.Ref
	res.Matched = true
	res.PreAggregation = &ref
	res.Kind = c.Kind
	res.EffectiveGranularity = eff
	return res
}

func reject(c *catalog.Candidate, reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{PreAggregation: c.Ref, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// checkRollup evaluates one rollup candidate and returns the effective
// granularity, or why the candidate cannot serve the query.
func (m *matcher) checkRollup(c *catalog.Candidate) (granularity.Granularity, *Rejection) {
	if m.leafAdditive {
		for _, id := range m.q.Measures {
			if !c.HasMeasure(id) {
				return granularity.None, reject(c, RejectMeasuresNotCovered, "missing measure %s", id)
			}
		}
		for _, id := range m.q.Dimensions {
			if !c.HasDimension(id) {
				return granularity.None, reject(c, RejectDimensionsNotCovered, "missing dimension %s", id)
			}
		}
		for _, id := range m.q.FilterDimensions {
			if !c.HasDimension(id) {
				return granularity.None, reject(c, RejectDimensionsNotCovered, "missing filter dimension %s", id)
			}
		}
	} else {
		if !sameSet(c.Measures, m.q.Measures, c.HasMeasure) {
			return granularity.None, reject(c, RejectMeasuresNotExact, "declares [%s], query needs exactly [%s]",
				strings.Join(c.Measures, ", "), strings.Join(m.q.Measures, ", "))
		}
		if !sameSet(c.Dimensions, m.q.Dimensions, c.HasDimension) {
			return granularity.None, reject(c, RejectDimensionsNotExact, "declares [%s], query needs exactly [%s]",
				strings.Join(c.Dimensions, ", "), strings.Join(m.q.Dimensions, ", "))
		}
	}

	for _, e := range m.multiplying {
		if !c.InScope(e.From) || !c.InScope(e.To) {
			return granularity.None, reject(c, RejectMultipliedJoin, "scope [%s] does not include the %s join %s -> %s",
				strings.Join(c.Scope, ", "), e.Relationship, e.From, e.To)
		}
	}

	if !m.q.HasTimeDimension() {
		return granularity.None, nil
	}
	return m.checkTime(c)
}

func (m *matcher) checkTime(c *catalog.Candidate) (granularity.Granularity, *Rejection) {
	if c.TimeDimension == "" {
		return granularity.None, reject(c, RejectMissingTimeDimension, "query is bucketed by %s", m.q.TimeDimension)
	}
	if c.TimeDimension != m.q.TimeDimension {
		return granularity.None, reject(c, RejectTimeDimensionMismatch, "declares %s, query uses %s", c.TimeDimension, m.q.TimeDimension)
	}

	res, err := granularity.Resolve(m.q.Granularity, c.Granularity, m.q.DateRange)
	if err != nil {
		return granularity.None, reject(c, RejectGranularityMismatch, "%s", err)
	}
	if res.Common != c.Granularity {
		return granularity.None, reject(c, RejectGranularityMismatch, "query granularity %s is finer than stored %s", m.q.Granularity, c.Granularity)
	}
	if !m.leafAdditive && m.q.Granularity != c.Granularity {
		return granularity.None, reject(c, RejectGranularityMismatch, "non-additive measures need stored granularity %s, have %s", m.q.Granularity, c.Granularity)
	}
	return res.Common, nil
}

// checkOriginalSQL accepts an original_sql candidate when every cube the
// query touches is the candidate's own cube: it holds raw rows, so any
// granularity can be derived from it.
func (m *matcher) checkOriginalSQL(c *catalog.Candidate) (granularity.Granularity, *Rejection) {
	for _, cube := range m.q.Cubes {
		if cube != c.Ref.Cube {
			return granularity.None, reject(c, RejectCubeNotCovered, "query touches cube %s", cube)
		}
	}
	for _, cube := range m.dependencyCubes {
		if cube != c.Ref.Cube {
			return granularity.None, reject(c, RejectCubeNotCovered, "measure dependencies touch cube %s", cube)
		}
	}
	return m.q.Granularity, nil
}

func sameSet(declared, want []string, has func(string) bool) bool {
	if len(declared) != len(want) {
		return false
	}
	for _, id := range want {
		if !has(id) {
			return false
		}
	}
	return true
}
