package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/catalog/formats/yaml"
	"github.com/aevon-lab/aevon-rollups/internal/rollup"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
	"github.com/spf13/cobra"
)

var (
	modelDir  string
	queryPath string
	rowsPath  string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load a data model and report its cubes and warnings",
	RunE:  runValidate,
}

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain which pre-aggregation would serve a query",
	Long:  "Reads a select request (the HTTP body format) from --query, or stdin when it is \"-\", and prints the selection with every rejected candidate. With --rows, a JSON array of rows stored in the matched rollup is folded into the query's buckets.",
	RunE:  runExplain,
}

func init() {
	validateCmd.Flags().StringVar(&modelDir, "model-dir", "./model", "Directory holding cube definitions")

	explainCmd.Flags().StringVar(&modelDir, "model-dir", "./model", "Directory holding cube definitions")
	explainCmd.Flags().StringVar(&queryPath, "query", "-", "Path to a JSON select request")
	explainCmd.Flags().StringVar(&rowsPath, "rows", "", "Path to a JSON array of sample rows stored in the matched rollup")
}

func loadModel(ctx context.Context, dir string) (*catalog.Registry, *catalog.Snapshot, error) {
	registry := catalog.NewRegistry(catalog.NewFileSystemSource(dir), yaml.NewCompiler())
	snap, _, err := registry.Reload(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load data model from %s: %w", dir, err)
	}
	return registry, snap, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	_, snap, err := loadModel(cmd.Context(), modelDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version %s (%d cubes, %d pre-aggregations)\n", snap.Version(), len(snap.Cubes()), snap.PreAggregationCount())
	for _, cube := range snap.Cubes() {
		fmt.Fprintf(out, "  %s: %d measures, %d dimensions, %d pre-aggregations\n",
			cube.Name, len(cube.Measures), len(cube.Dimensions), len(cube.PreAggregations))
	}
	for _, w := range snap.Warnings() {
		fmt.Fprintf(out, "warning: %s\n", w.Error())
	}
	return nil
}

type explainOutput struct {
	*selection.Result
	Plan      *rollup.Plan    `json:"rollup_plan,omitempty"`
	PlanError string          `json:"rollup_plan_error,omitempty"`
	Buckets   []rollup.Bucket `json:"buckets,omitempty"`
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	registry, snap, err := loadModel(ctx, modelDir)
	if err != nil {
		return err
	}

	data, err := readQuery(cmd, queryPath)
	if err != nil {
		return err
	}
	q, opts, err := selection.DecodeRequest(data)
	if err != nil {
		return err
	}

	res, err := selection.NewService(registry).WithCacheCapacity(0).Explain(ctx, q, opts)
	if err != nil {
		return err
	}

	out := explainOutput{Result: res}
	if res.Matched {
		plan, err := rollup.NewPlan(snap, res)
		switch {
		case err == nil:
			out.Plan = plan
		case errors.Is(err, rollup.ErrRawRows):
		default:
			out.PlanError = err.Error()
		}
	}

	if rowsPath != "" {
		if out.Plan == nil {
			return errors.New("--rows needs a query served by a rollup")
		}
		if out.Buckets, err = applyRows(out.Plan, rowsPath); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func applyRows(plan *rollup.Plan, path string) ([]rollup.Bucket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	var rows []rollup.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rows: %w", err)
	}
	buckets, err := rollup.Apply(plan, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fold rows into buckets: %w", err)
	}
	return buckets, nil
}

func readQuery(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read query: %w", err)
	}
	return data, nil
}
