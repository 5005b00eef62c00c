package selection

import (
	"errors"
	"fmt"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid query")

func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// Filter restricts the query on one member.
type Filter struct {
	Member   string   `json:"member"`
	Operator string   `json:"operator"`
	Values   []string `json:"values,omitempty"`
}

// TimeDimension requests time bucketing and/or a date range on a time
// dimension. A zero Granularity means the query only filters by range.
type TimeDimension struct {
	Dimension   string                  `json:"dimension"`
	Granularity granularity.Granularity `json:"granularity,omitempty"`
	DateRange   *granularity.DateRange  `json:"dateRange,omitempty"`
}

// Query is an already deserialized analytical query.
type Query struct {
	Measures       []string        `json:"measures,omitempty"`
	Dimensions     []string        `json:"dimensions,omitempty"`
	Filters        []Filter        `json:"filters,omitempty"`
	TimeDimensions []TimeDimension `json:"timeDimensions,omitempty"`
}

// Options let the caller restrict which candidate kinds may be used.
type Options struct {
	DisableRollups     bool `json:"disableRollups,omitempty"`
	DisableOriginalSQL bool `json:"disableOriginalSql,omitempty"`
}

// Reason explains a NoMatch result.
type Reason string

const (
	// ReasonSelectionDisabled: the caller disabled both candidate kinds.
	ReasonSelectionDisabled Reason = "selection_disabled"
	// ReasonNoCandidates: nothing is declared on the queried cubes.
	ReasonNoCandidates Reason = "no_candidates"
	// ReasonTimeGranularityRequired: the query is not leaf-measure-additive
	// and has no explicit time granularity.
	ReasonTimeGranularityRequired Reason = "time_granularity_required"
	// ReasonFiltersNotInDimensions: the query is not leaf-measure-additive
	// and filters on a dimension it does not select.
	ReasonFiltersNotInDimensions Reason = "filters_not_in_dimensions"
	// ReasonNoEligibleCandidate: every candidate was rejected.
	ReasonNoEligibleCandidate Reason = "no_eligible_candidate"
)

// RejectReason explains why a single candidate was skipped.
type RejectReason string

const (
	RejectMeasuresNotCovered     RejectReason = "measures_not_covered"
	RejectDimensionsNotCovered   RejectReason = "dimensions_not_covered"
	RejectMeasuresNotExact       RejectReason = "measures_not_exact"
	RejectDimensionsNotExact     RejectReason = "dimensions_not_exact"
	RejectMultipliedJoin         RejectReason = "multiplied_join_not_subsumed"
	RejectMissingTimeDimension   RejectReason = "missing_time_dimension"
	RejectTimeDimensionMismatch  RejectReason = "time_dimension_mismatch"
	RejectGranularityMismatch    RejectReason = "granularity_mismatch"
	RejectCubeNotCovered         RejectReason = "cube_not_covered"
	RejectTimeGranularityMissing RejectReason = "time_granularity_required"
	RejectFiltersNotInDimensions RejectReason = "filters_not_in_dimensions"
)

// Rejection records one skipped candidate.
type Rejection struct {
	PreAggregation model.Ref    `json:"pre_aggregation"`
	Reason         RejectReason `json:"reason"`
	Detail         string       `json:"detail,omitempty"`
}

// Result is the outcome of one selection. Exactly one of Matched / Reason
// is meaningful: a NoMatch is a normal result, not an error.
type Result struct {
	CatalogVersion string `json:"catalog_version"`
	Matched        bool   `json:"matched"`

	PreAggregation       *model.Ref               `json:"pre_aggregation,omitempty"`
	Kind                 model.PreAggregationKind `json:"kind,omitempty"`
	EffectiveGranularity granularity.Granularity  `json:"effective_granularity,omitempty"`

	Reason Reason `json:"reason,omitempty"`

	// Fresh is set when a freshness checker was consulted after a match.
	Fresh *bool `json:"fresh,omitempty"`

	LeafMeasureAdditive bool                     `json:"leaf_measure_additive"`
	Query               *NormalizedQuery         `json:"query,omitempty"`
	Classifications     []catalog.Classification `json:"classifications,omitempty"`
	Rejections          []Rejection              `json:"rejections,omitempty"`
}

// clone returns a copy safe to hand out while the original stays cached.
func (r *Result) clone() *Result {
	out := *r
	if r.PreAggregation != nil {
		ref := *r.PreAggregation
		out.PreAggregation = &ref
	}
	out.Fresh = nil
	out.Classifications = append([]catalog.Classification(nil), r.Classifications...)
	out.Rejections = append([]Rejection(nil), r.Rejections...)
	return &out
}
