package catalog_test

import (
	"context"
	"testing"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/catalog/formats/yaml"
	"github.com/stretchr/testify/require"
)

const usersCube = `
cube: users
measures:
  count: count
dimensions:
  country: string
  signed_up_at: time
joins:
  orders: one_to_many
`

const ordersCube = `
cube: orders
sql_table: public.orders
measures:
  count: count
  total_amount:
    type: sum
    sql: amount
  min_amount:
    type: min
    sql: amount
  max_amount:
    type: max
    sql: amount
  unique_customers:
    type: count_distinct_approx
    sql: user_id
  count_distinct_products:
    type: count_distinct
    sql: product_id
  average_amount:
    type: number
    sql: "{total_amount} / NULLIF({count}, 0)"
  completed_count:
    type: count
    references: [status]
  fixed_fee:
    type: number
    sql: "10"
dimensions:
  status: string
  completed_at: time
  amount: number
joins:
  users: many_to_one
  line_items: one_to_many
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
  orders_raw:
    type: original_sql
  orders_with_users:
    measures: [count, users.count]
    dimensions: [users.country]
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

func ecommerceFiles() map[string]string {
	return map[string]string{
		"users.yaml":      usersCube,
		"orders.yaml":     ordersCube,
		"line_items.yaml": lineItemsCube,
	}
}

func buildSnapshot(t *testing.T, files map[string]string) (*catalog.Snapshot, error) {
	t.Helper()
	src := catalog.NewMemorySource()
	for name, content := range files {
		src.Put(name, []byte(content))
	}
	reg := catalog.NewRegistry(src, yaml.NewCompiler())
	snap, _, err := reg.Reload(context.Background())
	return snap, err
}

func mustSnapshot(t *testing.T, files map[string]string) *catalog.Snapshot {
	t.Helper()
	snap, err := buildSnapshot(t, files)
	require.NoError(t, err)
	return snap
}
