package rollup_test

import (
	"context"
	"testing"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/catalog/formats/yaml"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/rollup"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsCube = `
cube: events
measures:
  count: count
  total:
    type: sum
    sql: amount
  smallest:
    type: min
    sql: amount
  largest:
    type: max
    sql: amount
  visitors:
    type: count_distinct_approx
    sql: visitor_id
dimensions:
  region: string
  device: string
  at: time
pre_aggregations:
  hourly:
    measures: [count, total, smallest, largest, visitors]
    dimensions: [region, device]
    time_dimension: at
    granularity: hour
  raw:
    type: original_sql
`

func snapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	src := catalog.NewMemorySource()
	src.Put("events.yaml", []byte(eventsCube))
	reg := catalog.NewRegistry(src, yaml.NewCompiler())
	snap, _, err := reg.Reload(context.Background())
	require.NoError(t, err)
	return snap
}

func selectFor(t *testing.T, snap *catalog.Snapshot, q selection.Query, opts selection.Options) *selection.Result {
	t.Helper()
	nq, err := selection.Normalize(snap, q)
	require.NoError(t, err)
	res, err := selection.Match(snap, nq, opts)
	require.NoError(t, err)
	return res
}

func at(day, hour int) time.Time {
	return time.Date(2026, time.January, day, hour, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func row(ts time.Time, region, device string, values map[string]string) rollup.Row {
	r := rollup.Row{
		Time:       ts,
		Dimensions: map[string]string{"events.region": region, "events.device": device},
		Values:     map[string]decimal.Decimal{},
	}
	for k, v := range values {
		r.Values["events."+k] = dec(v)
	}
	return r
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func TestPlanAndApply_DailyFromHourly(t *testing.T) {
	snap := snapshot(t)
	res := selectFor(t, snap, selection.Query{
		Measures:   []string{"events.count", "events.total", "events.smallest", "events.largest"},
		Dimensions: []string{"events.region"},
		TimeDimensions: []selection.TimeDimension{{
			Dimension:   "events.at",
			Granularity: granularity.Day,
			DateRange:   &granularity.DateRange{Start: at(1, 0), End: at(2, 0).Add(-time.Second)},
		}},
	}, selection.Options{})
	require.True(t, res.Matched)

	plan, err := rollup.NewPlan(snap, res)
	require.NoError(t, err)
	assert.Equal(t, granularity.Hour, plan.Source)
	assert.Equal(t, granularity.Day, plan.Target)
	assert.True(t, plan.Merges)
	assert.Equal(t, []rollup.MeasurePlan{
		{Measure: "events.count", Kind: "count", Op: rollup.OpAdd},
		{Measure: "events.largest", Kind: "max", Op: rollup.OpMax},
		{Measure: "events.smallest", Kind: "min", Op: rollup.OpMin},
		{Measure: "events.total", Kind: "sum", Op: rollup.OpAdd},
	}, plan.Measures)

	rows := []rollup.Row{
		row(at(1, 10), "emea", "mobile", map[string]string{"count": "2", "total": "10.5", "smallest": "1", "largest": "7"}),
		row(at(1, 11), "emea", "desktop", map[string]string{"count": "3", "total": "4.5", "smallest": "0.5", "largest": "3"}),
		row(at(1, 11), "apac", "mobile", map[string]string{"count": "1", "total": "2", "smallest": "2", "largest": "2"}),
		row(at(2, 0), "emea", "mobile", map[string]string{"count": "9", "total": "9", "smallest": "1", "largest": "1"}),
	}

	buckets, err := rollup.Apply(plan, rows)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	apac, emea := buckets[0], buckets[1]
	assert.Equal(t, map[string]string{"events.region": "apac"}, apac.Dimensions)
	assert.Equal(t, map[string]string{"events.region": "emea"}, emea.Dimensions)
	assert.Equal(t, at(1, 0), emea.Start)
	assert.Equal(t, at(2, 0), emea.End)
	assert.Equal(t, 2, emea.Rows)

	requireDecimal(t, "5", emea.Values["events.count"])
	requireDecimal(t, "15", emea.Values["events.total"])
	requireDecimal(t, "0.5", emea.Values["events.smallest"])
	requireDecimal(t, "7", emea.Values["events.largest"])
	requireDecimal(t, "1", apac.Values["events.count"])
}

func TestApply_TotalsAcrossTime(t *testing.T) {
	snap := snapshot(t)
	res := selectFor(t, snap, selection.Query{Measures: []string{"events.total"}}, selection.Options{})
	require.True(t, res.Matched)

	plan, err := rollup.NewPlan(snap, res)
	require.NoError(t, err)
	assert.Equal(t, granularity.None, plan.Target)
	assert.True(t, plan.Merges)

	buckets, err := rollup.Apply(plan, []rollup.Row{
		row(at(1, 1), "emea", "mobile", map[string]string{"total": "0.1"}),
		row(at(5, 3), "apac", "desktop", map[string]string{"total": "0.2"}),
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	requireDecimal(t, "0.3", buckets[0].Values["events.total"])
	assert.True(t, buckets[0].Start.IsZero())
	assert.Nil(t, buckets[0].Dimensions)
}

func TestApply_SortedByBucketStart(t *testing.T) {
	snap := snapshot(t)
	res := selectFor(t, snap, selection.Query{
		Measures:       []string{"events.count"},
		TimeDimensions: []selection.TimeDimension{{Dimension: "events.at", Granularity: granularity.Day}},
	}, selection.Options{})

	plan, err := rollup.NewPlan(snap, res)
	require.NoError(t, err)

	buckets, err := rollup.Apply(plan, []rollup.Row{
		row(at(3, 5), "emea", "mobile", map[string]string{"count": "1"}),
		row(at(1, 5), "emea", "mobile", map[string]string{"count": "1"}),
		row(at(2, 5), "emea", "mobile", map[string]string{"count": "1"}),
		row(at(1, 6), "emea", "mobile", map[string]string{"count": "1"}),
	})
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, at(1, 0), buckets[0].Start)
	assert.Equal(t, at(2, 0), buckets[1].Start)
	assert.Equal(t, at(3, 0), buckets[2].Start)
	requireDecimal(t, "2", buckets[0].Values["events.count"])
}

func TestNewPlan_ApproxDistinct(t *testing.T) {
	snap := snapshot(t)

	t.Run("rejected when rows merge", func(t *testing.T) {
		res := selectFor(t, snap, selection.Query{
			Measures:   []string{"events.visitors"},
			Dimensions: []string{"events.region"},
		}, selection.Options{})
		require.True(t, res.Matched)

		_, err := rollup.NewPlan(snap, res)
		require.ErrorIs(t, err, rollup.ErrNotMergeable)
		assert.Contains(t, err.Error(), "events.visitors")
	})

	t.Run("passed through at the stored grain", func(t *testing.T) {
		res := selectFor(t, snap, selection.Query{
			Measures:       []string{"events.visitors"},
			Dimensions:     []string{"events.region", "events.device"},
			TimeDimensions: []selection.TimeDimension{{Dimension: "events.at", Granularity: granularity.Hour}},
		}, selection.Options{})
		require.True(t, res.Matched)

		plan, err := rollup.NewPlan(snap, res)
		require.NoError(t, err)
		assert.False(t, plan.Merges)
		assert.Equal(t, rollup.OpKeep, plan.Measures[0].Op)

		buckets, err := rollup.Apply(plan, []rollup.Row{
			row(at(1, 1), "emea", "mobile", map[string]string{"visitors": "40"}),
			row(at(1, 2), "emea", "mobile", map[string]string{"visitors": "41"}),
		})
		require.NoError(t, err)
		require.Len(t, buckets, 2)
		requireDecimal(t, "40", buckets[0].Values["events.visitors"])

		_, err = rollup.Apply(plan, []rollup.Row{
			row(at(1, 1), "emea", "mobile", map[string]string{"visitors": "40"}),
			row(at(1, 1), "emea", "mobile", map[string]string{"visitors": "41"}),
		})
		assert.ErrorIs(t, err, rollup.ErrNotMergeable)
	})
}

func TestNewPlan_Errors(t *testing.T) {
	snap := snapshot(t)

	_, err := rollup.NewPlan(snap, &selection.Result{Reason: selection.ReasonNoEligibleCandidate})
	assert.ErrorIs(t, err, rollup.ErrNotMatched)

	res := selectFor(t, snap, selection.Query{Measures: []string{"events.count"}}, selection.Options{DisableRollups: true})
	require.True(t, res.Matched)
	_, err = rollup.NewPlan(snap, res)
	assert.ErrorIs(t, err, rollup.ErrRawRows)
}

func TestApply_MissingValue(t *testing.T) {
	snap := snapshot(t)
	res := selectFor(t, snap, selection.Query{Measures: []string{"events.count", "events.total"}}, selection.Options{})
	plan, err := rollup.NewPlan(snap, res)
	require.NoError(t, err)

	_, err = rollup.Apply(plan, []rollup.Row{row(at(1, 1), "emea", "mobile", map[string]string{"count": "1"})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.total")
}
