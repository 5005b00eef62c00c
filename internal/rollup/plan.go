// Package rollup folds rows read from a matched rollup into the buckets a
// query asked for.
//
// A rollup may be stored at a finer granularity than the query needs, or
// grouped by dimensions the query does not select. Additive measures can be
// merged across such rows; everything else must already be at the query's
// grain.
package rollup

import (
	"errors"
	"fmt"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
)

var (
	// ErrNotMatched is returned when planning from a NoMatch result.
	ErrNotMatched = errors.New("selection did not match a pre-aggregation")

	// ErrRawRows is returned for original_sql matches, which hold raw rows
	// rather than aggregates.
	ErrRawRows = errors.New("original_sql pre-aggregations hold raw rows")

	// ErrNotMergeable is returned when a measure would have to be combined
	// across rows but its partial values cannot be.
	ErrNotMergeable = errors.New("measure cannot be merged across rollup rows")
)

// Op is how partial values of one measure are combined.
type Op string

const (
	OpAdd Op = "add"
	OpMin Op = "min"
	OpMax Op = "max"
	// OpKeep passes the single stored value through; two rows landing in
	// one bucket is an error.
	OpKeep Op = "keep"
)

// MeasurePlan is the merge rule of one query measure.
type MeasurePlan struct {
	Measure string            `json:"measure"`
	Kind    model.MeasureKind `json:"kind"`
	Op      Op                `json:"op"`
}

// Plan describes how rows of a matched rollup become query buckets.
type Plan struct {
	PreAggregation model.Ref `json:"pre_aggregation"`

	// Source is the stored granularity; Target the query's. Target is None
	// when the query wants totals over time.
	Source granularity.Granularity `json:"source,omitempty"`
	Target granularity.Granularity `json:"target,omitempty"`

	// Dimensions are the query's dimensions, the grouping of the output.
	Dimensions []string      `json:"dimensions,omitempty"`
	Measures   []MeasurePlan `json:"measures"`

	// Merges is set when several stored rows can fall into one output
	// bucket.
	Merges bool `json:"merges"`

	DateRange *granularity.DateRange `json:"date_range,omitempty"`
}

// NewPlan derives the merge plan for a matched selection result.
func NewPlan(snap *catalog.Snapshot, res *selection.Result) (*Plan, error) {
	if res == nil || !res.Matched || res.PreAggregation == nil {
		return nil, ErrNotMatched
	}
	if res.Kind == model.KindOriginalSQL {
		return nil, fmt.Errorf("%w: %s", ErrRawRows, res.PreAggregation)
	}
	cand, ok := snap.PreAggregation(*res.PreAggregation)
	if !ok {
		return nil, fmt.Errorf("pre-aggregation %s is not in catalog version %s", res.PreAggregation, snap.Version())
	}
	q := res.Query

	p := &Plan{
		PreAggregation: cand.Ref,
		Source:         cand.Granularity,
		Dimensions:     append([]string(nil), q.Dimensions...),
		DateRange:      q.DateRange,
	}
	if q.HasGranularity {
		p.Target = q.Granularity
	}
	p.Merges = p.Source != p.Target || len(cand.Dimensions) > len(q.Dimensions)

	for _, id := range q.Measures {
		m, ok := snap.Measure(id)
		if !ok {
			return nil, fmt.Errorf("unknown measure %q", id)
		}
		op, err := opFor(m.Kind, p.Merges)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (%s)", err, id, m.Kind)
		}
		p.Measures = append(p.Measures, MeasurePlan{Measure: id, Kind: m.Kind, Op: op})
	}
	return p, nil
}

func opFor(kind model.MeasureKind, merges bool) (Op, error) {
	switch kind {
	case model.KindCount, model.KindSum:
		return OpAdd, nil
	case model.KindMin:
		return OpMin, nil
	case model.KindMax:
		return OpMax, nil
	}
	// count_distinct_approx is additive to the matcher because its sketches
	// merge, but a row here carries the estimate and not the sketch.
	if merges {
		return "", ErrNotMergeable
	}
	return OpKeep, nil
}
