package rollup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/shopspring/decimal"
)

// Row is one stored rollup row. Time is the start of its stored bucket and
// is ignored when the rollup has no time dimension.
type Row struct {
	Time       time.Time                  `json:"time"`
	Dimensions map[string]string          `json:"dimensions,omitempty"`
	Values     map[string]decimal.Decimal `json:"values"`
}

// Bucket is one output row at the query's grain.
type Bucket struct {
	Start      time.Time                  `json:"start"`
	End        time.Time                  `json:"end"`
	Dimensions map[string]string          `json:"dimensions,omitempty"`
	Values     map[string]decimal.Decimal `json:"values"`
	Rows       int                        `json:"rows"`
}

type bucketKey struct {
	start time.Time
	dims  string
}

// Apply folds rows into query buckets, sorted by bucket start and then by
// dimension values. Rows outside the plan's date range are skipped.
func Apply(p *Plan, rows []Row) ([]Bucket, error) {
	buckets := make(map[bucketKey]*Bucket)

	for i, row := range rows {
		if p.DateRange != nil && p.Source != granularity.None {
			if row.Time.Before(p.DateRange.Start) || row.Time.After(p.DateRange.End) {
				continue
			}
		}

		start := time.Time{}
		if p.Target != granularity.None {
			start = granularity.BucketFor(row.Time.UTC(), p.Target)
		}
		key := bucketKey{start: start, dims: p.dimensionKey(row)}

		b, exists := buckets[key]
		if !exists {
			b = &Bucket{
				Start:      start,
				Dimensions: p.projectDimensions(row),
				Values:     make(map[string]decimal.Decimal, len(p.Measures)),
			}
			if p.Target != granularity.None {
				b.End = granularity.Next(start, p.Target)
			}
			buckets[key] = b
		}

		for _, m := range p.Measures {
			v, ok := row.Values[m.Measure]
			if !ok {
				return nil, fmt.Errorf("row %d has no value for %s", i, m.Measure)
			}
			if !exists {
				b.Values[m.Measure] = v
				continue
			}
			merged, err := merge(m, b.Values[m.Measure], v)
			if err != nil {
				return nil, err
			}
			b.Values[m.Measure] = merged
		}
		b.Rows++
	}

	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].start.Equal(keys[j].start) {
			return keys[i].start.Before(keys[j].start)
		}
		return keys[i].dims < keys[j].dims
	})

	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, *buckets[k])
	}
	return out, nil
}

func merge(m MeasurePlan, acc, v decimal.Decimal) (decimal.Decimal, error) {
	switch m.Op {
	case OpAdd:
		return acc.Add(v), nil
	case OpMin:
		if v.LessThan(acc) {
			return v, nil
		}
		return acc, nil
	case OpMax:
		if v.GreaterThan(acc) {
			return v, nil
		}
		return acc, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s has more than one row per bucket", ErrNotMergeable, m.Measure)
	}
}

func (p *Plan) dimensionKey(row Row) string {
	parts := make([]string, len(p.Dimensions))
	for i, d := range p.Dimensions {
		parts[i] = row.Dimensions[d]
	}
	return strings.Join(parts, "\x00")
}

func (p *Plan) projectDimensions(row Row) map[string]string {
	if len(p.Dimensions) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Dimensions))
	for _, d := range p.Dimensions {
		out[d] = row.Dimensions[d]
	}
	return out
}
