package model

import (
	"fmt"
	"strings"

	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
)

// MeasureKind is the declared aggregation type of a measure.
type MeasureKind string

const (
	KindCount               MeasureKind = "count"
	KindSum                 MeasureKind = "sum"
	KindMin                 MeasureKind = "min"
	KindMax                 MeasureKind = "max"
	KindCountDistinct       MeasureKind = "count_distinct"
	KindCountDistinctApprox MeasureKind = "count_distinct_approx"
	KindNumber              MeasureKind = "number" // calculated expression
)

// Valid reports whether k is a known measure kind.
func (k MeasureKind) Valid() bool {
	switch k {
	case KindCount, KindSum, KindMin, KindMax, KindCountDistinct, KindCountDistinctApprox, KindNumber:
		return true
	}
	return false
}

// Additive reports whether partial aggregates of this kind can be combined
// without going back to raw rows.
func (k MeasureKind) Additive() bool {
	switch k {
	case KindCount, KindSum, KindMin, KindMax, KindCountDistinctApprox:
		return true
	}
	return false
}

// DimensionType is the value type of a dimension.
type DimensionType string

const (
	TypeNumber  DimensionType = "number"
	TypeString  DimensionType = "string"
	TypeTime    DimensionType = "time"
	TypeBoolean DimensionType = "boolean"
)

// Valid reports whether t is a known dimension type.
func (t DimensionType) Valid() bool {
	switch t {
	case TypeNumber, TypeString, TypeTime, TypeBoolean:
		return true
	}
	return false
}

// Relationship is the cardinality of a join edge, read from the joining cube
// to the joined cube.
type Relationship string

const (
	OneToOne   Relationship = "one_to_one"
	OneToMany  Relationship = "one_to_many"
	ManyToOne  Relationship = "many_to_one"
	ManyToMany Relationship = "many_to_many"
)

// Valid reports whether r is a known relationship.
func (r Relationship) Valid() bool {
	switch r {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// Reverse returns the relationship seen from the other end of the edge.
func (r Relationship) Reverse() Relationship {
	switch r {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	default:
		return r
	}
}

// PreAggregationKind distinguishes rollups from original-SQL materializations.
type PreAggregationKind string

const (
	KindRollup      PreAggregationKind = "rollup"
	KindOriginalSQL PreAggregationKind = "original_sql"
)

// Valid reports whether k is a known pre-aggregation kind.
func (k PreAggregationKind) Valid() bool {
	return k == KindRollup || k == KindOriginalSQL
}

// Measure is a named aggregate declared on a cube.
type Measure struct {
	Name string
	Kind MeasureKind
	SQL  string

	// References holds the member identifiers this measure depends on,
	// extracted once when the model is compiled. Entries are qualified
	// ("cube.member") whenever the cube is known.
	References []string
}

// Dimension is a named attribute declared on a cube.
type Dimension struct {
	Name string
	Type DimensionType
	SQL  string
}

// Join links the declaring cube to another one.
type Join struct {
	From         string
	To           string
	Relationship Relationship
}

// PreAggregation declares a precomputed structure on a cube.
type PreAggregation struct {
	Name string
	Kind PreAggregationKind

	// Measures and Dimensions hold qualified member identifiers.
	Measures   []string
	Dimensions []string

	// TimeDimension is empty when the pre-aggregation is not bucketed by time.
	TimeDimension string
	Granularity   granularity.Granularity

	// Index is the declaration position within the owning cube.
	Index int
}

// Cube is a unit of the data model: measures, dimensions, joins and the
// pre-aggregations declared against it, all in author declaration order.
type Cube struct {
	Name            string
	SQLTable        string
	Measures        []Measure
	Dimensions      []Dimension
	Joins           []Join
	PreAggregations []PreAggregation
}

// MemberID qualifies a member name with its cube.
func MemberID(cube, member string) string {
	return cube + "." + member
}

// SplitMemberID splits "cube.member" into its parts. The cube is empty for
// bare names.
func SplitMemberID(id string) (cube, member string) {
	id = strings.TrimSpace(id)
	if i := strings.Index(id, "."); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// Qualify prefixes a bare member name with cube; qualified names pass through.
func Qualify(cube, id string) string {
	c, m := SplitMemberID(id)
	if c == "" {
		return MemberID(cube, m)
	}
	return MemberID(c, m)
}

// Ref identifies a pre-aggregation across the whole catalog.
type Ref struct {
	Cube string `json:"cube"`
	Name string `json:"name"`
}

// String returns "cube.name".
func (r Ref) String() string {
	return fmt.Sprintf("%s.%s", r.Cube, r.Name)
}

// Ref returns the catalog-wide reference of a pre-aggregation declared on c.
func (c *Cube) Ref(p PreAggregation) Ref {
	return Ref{Cube: c.Name, Name: p.Name}
}
