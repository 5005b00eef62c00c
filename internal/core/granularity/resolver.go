package granularity

import (
	"errors"
	"fmt"
	"time"
)

// ErrGranularityMismatch is returned when two granularities share no common
// bucket size, or when a date range does not line up with the common one.
// It is a candidate-level outcome, never fatal to a selection.
var ErrGranularityMismatch = errors.New("granularity mismatch")

// DateRange is an inclusive [Start, End] time range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate rejects ranges whose end precedes their start.
func (r DateRange) Validate() error {
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s is before start %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}

// Aligned reports whether the range starts on a g boundary and ends on the
// last second of a g bucket. Sub-second precision on the end is ignored.
func (r DateRange) Aligned(g Granularity) bool {
	if !IsBoundary(r.Start, g) {
		return false
	}
	endExclusive := r.End.Truncate(time.Second).Add(time.Second)
	return IsBoundary(endExclusive, g)
}

// Common returns the granularity both a and b are compatible with: the finer
// of the two, provided it evenly divides the coarser.
//
//	Common(Hour, Day)   → Hour
//	Common(Month, Week) → ErrGranularityMismatch
func Common(a, b Granularity) (Granularity, error) {
	if !a.Valid() || !b.Valid() {
		return None, fmt.Errorf("%w: %s and %s", ErrGranularityMismatch, a, b)
	}
	finer, coarser := a, b
	if b.Finer(a) {
		finer, coarser = b, a
	}
	if !finer.Divides(coarser) {
		return None, fmt.Errorf("%w: %s does not divide %s", ErrGranularityMismatch, finer, coarser)
	}
	return finer, nil
}

// Resolution is the outcome of resolving a query against one candidate.
type Resolution struct {
	Common Granularity
}

// Resolve computes the common granularity of a query (which may carry None)
// and a candidate's stored granularity, then checks that the optional date
// range aligns to it.
func Resolve(query, candidate Granularity, r *DateRange) (Resolution, error) {
	if !candidate.Valid() {
		return Resolution{}, fmt.Errorf("%w: candidate has no granularity", ErrGranularityMismatch)
	}

	common := candidate
	if query != None {
		var err error
		common, err = Common(query, candidate)
		if err != nil {
			return Resolution{}, err
		}
	}

	if r != nil && !r.Aligned(common) {
		return Resolution{}, fmt.Errorf("%w: date range %s..%s is not aligned to %s",
			ErrGranularityMismatch, r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339), common)
	}
	return Resolution{Common: common}, nil
}
