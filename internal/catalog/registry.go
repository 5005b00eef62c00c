package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNotLoaded is returned while no snapshot has been published yet.
var ErrNotLoaded = errors.New("catalog not loaded")

// VersionRecord describes a published snapshot.
type VersionRecord struct {
	ID                  string
	Fingerprint         string
	CubeCount           int
	PreAggregationCount int
	WarningCount        int
	PublishedAt         time.Time
}

// VersionRecorder persists the history of published snapshots.
type VersionRecorder interface {
	RecordVersion(ctx context.Context, rec VersionRecord) error
}

// Registry owns the current snapshot. Publishing is an atomic pointer swap:
// readers either see the previous snapshot or the new one, never a partial
// build.
type Registry struct {
	source   Source
	compiler Compiler
	recorder VersionRecorder

	current atomic.Pointer[Snapshot]
	reloads singleflight.Group
}

// NewRegistry creates a registry reading definitions from source.
func NewRegistry(source Source, compiler Compiler) *Registry {
	return &Registry{source: source, compiler: compiler}
}

// WithRecorder sets the recorder notified after each publish.
func (r *Registry) WithRecorder(rec VersionRecorder) *Registry {
	r.recorder = rec
	return r
}

// Current returns the published snapshot or ErrNotLoaded.
func (r *Registry) Current() (*Snapshot, error) {
	s := r.current.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s, nil
}

// Publish swaps in snap as the current snapshot.
func (r *Registry) Publish(ctx context.Context, snap *Snapshot) {
	prev := r.current.Swap(snap)

	attrs := []any{
		"version", snap.Version(),
		"cubes", len(snap.cubes),
		"pre_aggregations", snap.PreAggregationCount(),
		"warnings", len(snap.warnings),
	}
	if prev != nil {
		attrs = append(attrs, "previous_version", prev.Version())
	}
	slog.Info("[Catalog] Snapshot published", attrs...)
	for _, w := range snap.warnings {
		slog.Warn("[Catalog] Pre-aggregation excluded", "cube", w.Cube, "pre_aggregation", w.Member, "reason", w.Message)
	}

	if r.recorder != nil {
		rec := VersionRecord{
			ID:                  snap.Version(),
			Fingerprint:         snap.Fingerprint(),
			CubeCount:           len(snap.cubes),
			PreAggregationCount: snap.PreAggregationCount(),
			WarningCount:        len(snap.warnings),
			PublishedAt:         snap.BuiltAt(),
		}
		if err := r.recorder.RecordVersion(ctx, rec); err != nil {
			slog.Warn("[Catalog] Failed to record snapshot version", "version", rec.ID, "error", err)
		}
	}
}

// Reload reads the source, and builds and publishes a new snapshot when the
// content changed. Concurrent calls share one in-flight reload. The returned
// bool reports whether a new snapshot was published. A failed build leaves
// the current snapshot in place.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, bool, error) {
	type outcome struct {
		snap      *Snapshot
		published bool
	}
	v, err, _ := r.reloads.Do("reload", func() (interface{}, error) {
		snap, published, err := r.reload(ctx)
		return outcome{snap, published}, err
	})
	if err != nil {
		return nil, false, err
	}
	o := v.(outcome)
	return o.snap, o.published, nil
}

func (r *Registry) reload(ctx context.Context) (*Snapshot, bool, error) {
	defs, err := r.source.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("listing cube definitions: %w", err)
	}

	fingerprint := modelFingerprint(defs)
	if cur := r.current.Load(); cur != nil && cur.Fingerprint() == fingerprint {
		slog.Debug("[Catalog] Reload skipped, model unchanged", "version", cur.Version())
		return cur, false, nil
	}

	cubes, err := CompileAll(ctx, r.compiler, defs)
	if err != nil {
		return nil, false, err
	}

	snap, err := Build(cubes, fingerprint)
	if err != nil {
		slog.Error("[Catalog] Data model rejected", "error", err)
		return nil, false, err
	}

	r.Publish(ctx, snap)
	return snap, true, nil
}

// CompileAll compiles definitions in parallel, preserving input order.
// Compile errors are reported as ErrInvalidDataModel.
func CompileAll(ctx context.Context, compiler Compiler, defs []*Definition) ([]*model.Cube, error) {
	cubes := make([]*model.Cube, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, def := range defs {
		g.Go(func() error {
			cube, err := compiler.Compile(gctx, def)
			if err != nil {
				return fmt.Errorf("%w: %w", model.ErrInvalidDataModel, err)
			}
			cubes[i] = cube
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cubes, nil
}
