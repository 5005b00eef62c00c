package yaml

import (
	"context"
	"fmt"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/core/granularity"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"gopkg.in/yaml.v3"
)

// Compiler compiles YAML cube definitions.
type Compiler struct{}

// NewCompiler creates a new YAML compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile parses one cube definition file and returns the compiled cube.
// Measure dependencies are extracted here, once, so the catalog never has
// to look at SQL text again.
func (c *Compiler) Compile(ctx context.Context, def *catalog.Definition) (*model.Cube, error) {
	var spec CubeSpec
	if err := yaml.Unmarshal(def.Content, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse cube definition %s: %w", def.Name, err)
	}

	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cube definition %s: %w", def.Name, err)
	}

	cube := &model.Cube{
		Name:     spec.Cube,
		SQLTable: spec.SQLTable,
	}

	for _, m := range spec.Measures {
		cube.Measures = append(cube.Measures, model.Measure{
			Name:       m.Name,
			Kind:       model.MeasureKind(m.Value.Type),
			SQL:        m.Value.SQL,
			References: extractReferences(spec.Cube, m.Value),
		})
	}

	for _, d := range spec.Dimensions {
		cube.Dimensions = append(cube.Dimensions, model.Dimension{
			Name: d.Name,
			Type: model.DimensionType(d.Value.Type),
			SQL:  d.Value.SQL,
		})
	}

	for _, j := range spec.Joins {
		cube.Joins = append(cube.Joins, model.Join{
			From:         spec.Cube,
			To:           j.Name,
			Relationship: model.Relationship(j.Value.Relationship),
		})
	}

	for i, p := range spec.PreAggregations {
		// Parse errors were already reported by Validate.
		g, _ := granularity.Parse(p.Value.Granularity)
		pa := model.PreAggregation{
			Name:        p.Name,
			Kind:        p.Value.kind(),
			Granularity: g,
			Index:       i,
		}
		for _, id := range p.Value.Measures {
			pa.Measures = append(pa.Measures, model.Qualify(spec.Cube, id))
		}
		for _, id := range p.Value.Dimensions {
			pa.Dimensions = append(pa.Dimensions, model.Qualify(spec.Cube, id))
		}
		if p.Value.TimeDimension != "" {
			pa.TimeDimension = model.Qualify(spec.Cube, p.Value.TimeDimension)
		}
		cube.PreAggregations = append(cube.PreAggregations, pa)
	}

	return cube, nil
}
