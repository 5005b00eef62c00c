package selection_test

import (
	"context"
	"testing"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/catalog/formats/yaml"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/stretchr/testify/require"
)

const ordersCube = `
cube: orders
measures:
  count: count
  total_amount:
    type: sum
    sql: amount
  count_distinct_products:
    type: count_distinct
    sql: product_id
  unique_products_approx:
    type: count_distinct_approx
    sql: product_id
  average_amount:
    type: number
    sql: "{total_amount} / NULLIF({count}, 0)"
dimensions:
  status: string
  region: string
  completed_at: time
joins:
  line_items: one_to_many
  users: many_to_one
pre_aggregations:
  order_statuses:
    dimensions: [status]
  orders_by_completed_at:
    measures: [count]
    time_dimension: completed_at
    granularity: month
  distinct_products:
    measures: [count_distinct_products]
    dimensions: [status]
    time_dimension: completed_at
    granularity: month
  orders_daily:
    measures: [count, total_amount, unique_products_approx]
    dimensions: [status, region]
    time_dimension: completed_at
    granularity: day
  average_by_status_monthly:
    measures: [average_amount]
    dimensions: [status]
    time_dimension: completed_at
    granularity: month
  orders_raw:
    type: original_sql
`

const lineItemsCube = `
cube: line_items
measures:
  count: count
  quantity:
    type: sum
    sql: quantity
dimensions:
  product: string
joins:
  orders: many_to_one
pre_aggregations:
  items_by_product:
    measures: [count, quantity]
    dimensions: [product]
`

const usersCube = `
cube: users
measures:
  count: count
dimensions:
  country: string
  created_at: time
joins:
  orders: one_to_many
pre_aggregations:
  users_by_country:
    measures: [count]
    dimensions: [country]
  users_with_items:
    measures: [count, line_items.count]
    dimensions: [country]
    time_dimension: created_at
    granularity: day
  users_with_orders:
    measures: [count, orders.count]
    dimensions: [country]
    time_dimension: created_at
    granularity: day
`

func ecommerce() map[string]string {
	return map[string]string{
		"orders.yaml":     ordersCube,
		"line_items.yaml": lineItemsCube,
		"users.yaml":      usersCube,
	}
}

func newRegistry(t *testing.T, files map[string]string) *catalog.Registry {
	t.Helper()
	src := catalog.NewMemorySource()
	for name, content := range files {
		src.Put(name, []byte(content))
	}
	reg := catalog.NewRegistry(src, yaml.NewCompiler())
	_, _, err := reg.Reload(context.Background())
	require.NoError(t, err)
	return reg
}

func mustSnapshot(t *testing.T, files map[string]string) *catalog.Snapshot {
	t.Helper()
	snap, err := newRegistry(t, files).Current()
	require.NoError(t, err)
	return snap
}

func utc(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// days returns the inclusive range covering whole days from..to.
func days(from, to time.Time) *granularity.DateRange {
	return &granularity.DateRange{Start: from, End: to.AddDate(0, 0, 1).Add(-time.Second)}
}
