package selection_test

import (
	"testing"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	snap := mustSnapshot(t, ecommerce())

	t.Run("sorts and deduplicates members", func(t *testing.T) {
		nq, err := selection.Normalize(snap, selection.Query{
			Measures:   []string{"orders.total_amount", "orders.count", "orders.count"},
			Dimensions: []string{"orders.status", "users.country", "orders.status"},
		})
		require.NoError(t, err)

		assert.Equal(t, "orders", nq.Anchor)
		assert.Equal(t, []string{"orders.count", "orders.total_amount"}, nq.Measures)
		assert.Equal(t, []string{"orders.status", "users.country"}, nq.Dimensions)
		assert.Equal(t, []string{"orders", "users"}, nq.Cubes)
		assert.False(t, nq.HasTimeDimension())
		assert.False(t, nq.HasGranularity)
	})

	t.Run("anchor falls back to dimensions then time dimension", func(t *testing.T) {
		nq, err := selection.Normalize(snap, selection.Query{Dimensions: []string{"users.country", "orders.status"}})
		require.NoError(t, err)
		assert.Equal(t, "users", nq.Anchor)

		nq, err = selection.Normalize(snap, selection.Query{
			TimeDimensions: []selection.TimeDimension{{Dimension: "users.created_at", Granularity: granularity.Week}},
		})
		require.NoError(t, err)
		assert.Equal(t, "users", nq.Anchor)
		assert.Equal(t, "users.created_at", nq.TimeDimension)
		assert.Equal(t, granularity.Week, nq.Granularity)
		assert.True(t, nq.HasGranularity)
	})

	t.Run("bare names are qualified to the anchor", func(t *testing.T) {
		for _, measures := range [][]string{
			{"orders.count", "total_amount"},
			{"total_amount", "orders.count"},
		} {
			nq, err := selection.Normalize(snap, selection.Query{
				Measures:   measures,
				Dimensions: []string{"status"},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"orders.count", "orders.total_amount"}, nq.Measures)
			assert.Equal(t, []string{"orders.status"}, nq.Dimensions)
		}
	})

	t.Run("anchor is the cube other cubes fan out from", func(t *testing.T) {
		for _, measures := range [][]string{
			{"users.count", "orders.count"},
			{"orders.count", "users.count"},
			{"line_items.count", "orders.count", "users.count"},
		} {
			nq, err := selection.Normalize(snap, selection.Query{Measures: measures})
			require.NoError(t, err)
			assert.Equal(t, "users", nq.Anchor, "measures %v", measures)
		}

		nq, err := selection.Normalize(snap, selection.Query{Measures: []string{"line_items.count", "orders.total_amount"}})
		require.NoError(t, err)
		assert.Equal(t, "orders", nq.Anchor)
	})

	t.Run("ties between roots follow catalog order", func(t *testing.T) {
		cyclic := mustSnapshot(t, map[string]string{
			"a.yaml": "cube: a\nmeasures:\n  count: count\njoins:\n  b: many_to_many\n",
			"b.yaml": "cube: b\nmeasures:\n  count: count\n",
		})
		for _, measures := range [][]string{{"a.count", "b.count"}, {"b.count", "a.count"}} {
			nq, err := selection.Normalize(cyclic, selection.Query{Measures: measures})
			require.NoError(t, err)
			assert.Equal(t, "a", nq.Anchor)
		}
	})

	t.Run("measure filters join the measure set", func(t *testing.T) {
		nq, err := selection.Normalize(snap, selection.Query{
			Measures: []string{"orders.count"},
			Filters: []selection.Filter{
				{Member: "orders.total_amount", Operator: "gt", Values: []string{"100"}},
				{Member: "orders.region", Operator: "set"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"orders.count", "orders.total_amount"}, nq.Measures)
		assert.Equal(t, []string{"orders.region"}, nq.FilterDimensions)
		assert.False(t, nq.FiltersInDimensions())
	})

	t.Run("filter on the time dimension is absorbed", func(t *testing.T) {
		nq, err := selection.Normalize(snap, selection.Query{
			Measures:       []string{"orders.count"},
			TimeDimensions: []selection.TimeDimension{{Dimension: "orders.completed_at", Granularity: granularity.Day}},
			Filters: []selection.Filter{
				{Member: "orders.completed_at", Operator: "inDateRange", Values: []string{"2026-01-01", "2026-01-31"}},
			},
		})
		require.NoError(t, err)
		assert.Empty(t, nq.FilterDimensions)
		assert.True(t, nq.FiltersInDimensions())
	})

	t.Run("date range is copied", func(t *testing.T) {
		r := days(utc(2026, time.January, 1), utc(2026, time.January, 31))
		nq, err := selection.Normalize(snap, selection.Query{
			Measures:       []string{"orders.count"},
			TimeDimensions: []selection.TimeDimension{{Dimension: "orders.completed_at", DateRange: r}},
		})
		require.NoError(t, err)
		require.NotNil(t, nq.DateRange)
		assert.Equal(t, *r, *nq.DateRange)
		assert.NotSame(t, r, nq.DateRange)
		assert.False(t, nq.HasGranularity)
	})

	t.Run("single cube catalogs accept bare names", func(t *testing.T) {
		single := mustSnapshot(t, map[string]string{"orders.yaml": `
cube: orders
measures:
  count: count
dimensions:
  status: string
`})
		nq, err := selection.Normalize(single, selection.Query{Measures: []string{"count"}, Dimensions: []string{"status"}})
		require.NoError(t, err)
		assert.Equal(t, "orders", nq.Anchor)
		assert.Equal(t, []string{"orders.count"}, nq.Measures)
	})
}

func TestNormalize_Key(t *testing.T) {
	snap := mustSnapshot(t, ecommerce())

	key := func(q selection.Query) string {
		nq, err := selection.Normalize(snap, q)
		require.NoError(t, err)
		return nq.Key()
	}

	base := selection.Query{Measures: []string{"orders.count"}, Dimensions: []string{"orders.status", "orders.region"}}
	reordered := selection.Query{Measures: []string{"count"}, Dimensions: []string{"orders.region", "status"}}
	assert.Equal(t, key(base), key(reordered))

	withRange := base
	withRange.TimeDimensions = []selection.TimeDimension{{
		Dimension: "orders.completed_at", Granularity: granularity.Day,
		DateRange: days(utc(2026, time.January, 1), utc(2026, time.January, 2)),
	}}
	assert.NotEqual(t, key(base), key(withRange))

	otherRange := base
	otherRange.TimeDimensions = []selection.TimeDimension{{
		Dimension: "orders.completed_at", Granularity: granularity.Day,
		DateRange: days(utc(2026, time.January, 1), utc(2026, time.January, 3)),
	}}
	assert.NotEqual(t, key(withRange), key(otherRange))
}

func TestNormalize_InvalidQueries(t *testing.T) {
	snap := mustSnapshot(t, ecommerce())

	tests := []struct {
		name    string
		query   selection.Query
		wantErr string
	}{
		{
			name:    "empty query",
			query:   selection.Query{},
			wantErr: "at least one",
		},
		{
			name:    "unknown measure",
			query:   selection.Query{Measures: []string{"orders.revenue"}},
			wantErr: `unknown measure "orders.revenue"`,
		},
		{
			name:    "dimension used as measure",
			query:   selection.Query{Measures: []string{"orders.status"}},
			wantErr: "unknown measure",
		},
		{
			name:    "unknown dimension",
			query:   selection.Query{Dimensions: []string{"orders.color"}},
			wantErr: `unknown dimension "orders.color"`,
		},
		{
			name:    "unknown cube",
			query:   selection.Query{Measures: []string{"payments.count"}},
			wantErr: `unknown cube "payments"`,
		},
		{
			name:    "only bare names with several cubes",
			query:   selection.Query{Measures: []string{"count"}},
			wantErr: "must be qualified",
		},
		{
			name:    "malformed identifier",
			query:   selection.Query{Measures: []string{"orders.count", "a.b.c"}},
			wantErr: "malformed member identifier",
		},
		{
			name:    "empty identifier",
			query:   selection.Query{Measures: []string{""}},
			wantErr: "empty member identifier",
		},
		{
			name: "two time dimensions",
			query: selection.Query{TimeDimensions: []selection.TimeDimension{
				{Dimension: "orders.completed_at", Granularity: granularity.Day},
				{Dimension: "users.created_at", Granularity: granularity.Day},
			}},
			wantErr: "at most one time dimension",
		},
		{
			name: "non-time dimension as time dimension",
			query: selection.Query{TimeDimensions: []selection.TimeDimension{
				{Dimension: "orders.status", Granularity: granularity.Day},
			}},
			wantErr: "cannot be used as a time dimension",
		},
		{
			name: "time dimension without granularity or range",
			query: selection.Query{
				Measures:       []string{"orders.count"},
				TimeDimensions: []selection.TimeDimension{{Dimension: "orders.completed_at"}},
			},
			wantErr: "needs a granularity or a date range",
		},
		{
			name: "end before start",
			query: selection.Query{
				Measures: []string{"orders.count"},
				TimeDimensions: []selection.TimeDimension{{
					Dimension:   "orders.completed_at",
					Granularity: granularity.Day,
					DateRange:   &granularity.DateRange{Start: utc(2026, time.March, 2), End: utc(2026, time.March, 1)},
				}},
			},
			wantErr: "is before start",
		},
		{
			name: "unsupported filter operator",
			query: selection.Query{
				Measures: []string{"orders.count"},
				Filters:  []selection.Filter{{Member: "orders.status", Operator: "like", Values: []string{"x"}}},
			},
			wantErr: `unsupported filter operator "like"`,
		},
		{
			name: "filter without values",
			query: selection.Query{
				Measures: []string{"orders.count"},
				Filters:  []selection.Filter{{Member: "orders.status", Operator: "equals"}},
			},
			wantErr: "requires values",
		},
		{
			name: "unknown filter member",
			query: selection.Query{
				Measures: []string{"orders.count"},
				Filters:  []selection.Filter{{Member: "orders.color", Operator: "set"}},
			},
			wantErr: `unknown filter member "orders.color"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nq, err := selection.Normalize(snap, tt.query)
			require.Error(t, err)
			assert.Nil(t, nq)
			assert.ErrorIs(t, err, selection.ErrInvalidQuery)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalize_UnjoinedCube(t *testing.T) {
	files := ecommerce()
	files["payments.yaml"] = `
cube: payments
measures:
  count: count
`
	snap := mustSnapshot(t, files)

	_, err := selection.Normalize(snap, selection.Query{Measures: []string{"orders.count", "payments.count"}})
	require.ErrorIs(t, err, selection.ErrInvalidQuery)
	assert.Contains(t, err.Error(), `cube "payments" cannot be joined to "orders"`)
}
