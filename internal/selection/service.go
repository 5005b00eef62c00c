package selection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/model"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/aevon-lab/aevon-rollups/internal/selection"

// SnapshotProvider hands out the current catalog snapshot.
type SnapshotProvider interface {
	Current() (*catalog.Snapshot, error)
}

// FreshnessChecker reports whether a pre-aggregation's materialized data is
// current. It is consulted after a match, never by the matcher itself.
type FreshnessChecker interface {
	IsFresh(ctx context.Context, ref model.Ref) (bool, error)
}

// Record is one served selection, as persisted by a Recorder.
type Record struct {
	ID                   string
	CatalogVersion       string
	Anchor               string
	Measures             []string
	Dimensions           []string
	Matched              bool
	PreAggregation       string
	EffectiveGranularity string
	Reason               string
	CreatedAt            time.Time
}

// Recorder persists selection outcomes for auditing.
type Recorder interface {
	RecordSelection(ctx context.Context, rec Record) error
}

// Service runs selections against the current catalog snapshot.
type Service struct {
	snapshots SnapshotProvider
	freshness FreshnessChecker
	recorder  Recorder
	cache     *resultCache
	defaults  Options
	tracer    trace.Tracer
	nowFn     func() time.Time
}

// NewService creates a selection service with the default cache capacity.
func NewService(snapshots SnapshotProvider) *Service {
	return &Service{
		snapshots: snapshots,
		cache:     newResultCache(DefaultCacheCapacity),
		tracer:    otel.Tracer(tracerName),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithCacheCapacity replaces the result cache; zero disables caching.
func (s *Service) WithCacheCapacity(capacity int) *Service {
	s.cache = newResultCache(capacity)
	return s
}

// WithDefaults sets options applied to every call in addition to the
// caller's own. Callers can narrow the defaults, never widen them.
func (s *Service) WithDefaults(opts Options) *Service {
	s.defaults = opts
	return s
}

// WithFreshnessChecker sets the collaborator consulted after a match.
func (s *Service) WithFreshnessChecker(fc FreshnessChecker) *Service {
	s.freshness = fc
	return s
}

// WithRecorder sets the collaborator that persists outcomes.
func (s *Service) WithRecorder(rec Recorder) *Service {
	s.recorder = rec
	return s
}

// Select returns the pre-aggregation that serves q, or a NoMatch result.
// Per-candidate rejections are omitted; use Explain to get them.
func (s *Service) Select(ctx context.Context, q Query, opts Options) (*Result, error) {
	res, err := s.run(ctx, "selection.Select", q, opts)
	if err != nil {
		return nil, err
	}
	res.Rejections = nil
	res.Classifications = nil
	return res, nil
}

// Explain is Select with the full reasoning attached: measure
// classifications and every rejected candidate in scan order.
func (s *Service) Explain(ctx context.Context, q Query, opts Options) (*Result, error) {
	return s.run(ctx, "selection.Explain", q, opts)
}

func (s *Service) run(ctx context.Context, spanName string, q Query, opts Options) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	snap, err := s.snapshots.Current()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("catalog.version", snap.Version()))

	nq, err := Normalize(snap, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid query")
		return nil, err
	}

	opts = Options{
		DisableRollups:     opts.DisableRollups || s.defaults.DisableRollups,
		DisableOriginalSQL: opts.DisableOriginalSQL || s.defaults.DisableOriginalSQL,
	}
	key := fmt.Sprintf("%s|%t|%t|%s", snap.Version(), opts.DisableRollups, opts.DisableOriginalSQL, nq.Key())

	res := s.cache.Get(key)
	cached := res != nil
	if !cached {
		res, err = Match(snap, nq, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		s.cache.Put(key, res)
	}

	span.SetAttributes(
		attribute.String("query.anchor", nq.Anchor),
		attribute.Bool("selection.matched", res.Matched),
		attribute.Bool("selection.cached", cached),
	)
	if res.Matched {
		span.SetAttributes(
			attribute.String("selection.pre_aggregation", res.PreAggregation.String()),
			attribute.String("selection.granularity", res.EffectiveGranularity.String()),
		)
		s.checkFreshness(ctx, res)
	} else {
		span.SetAttributes(attribute.String("selection.reason", string(res.Reason)))
	}

	s.record(ctx, res)
	return res, nil
}

func (s *Service) checkFreshness(ctx context.Context, res *Result) {
	if s.freshness == nil {
		return
	}
	fresh, err := s.freshness.IsFresh(ctx, *res.PreAggregation)
	if err != nil {
		slog.Warn("[Selection] Freshness check failed",
			"pre_aggregation", res.PreAggregation.String(),
			"error", err,
		)
		return
	}
	res.Fresh = &fresh
	if !fresh {
		slog.Info("[Selection] Matched pre-aggregation is stale", "pre_aggregation", res.PreAggregation.String())
	}
}

func (s *Service) record(ctx context.Context, res *Result) {
	attrs := []any{
		"catalog_version", res.CatalogVersion,
		"anchor", res.Query.Anchor,
		"matched", res.Matched,
	}
	if res.Matched {
		attrs = append(attrs, "pre_aggregation", res.PreAggregation.String(), "granularity", res.EffectiveGranularity.String())
	} else {
		attrs = append(attrs, "reason", res.Reason)
	}
	slog.Debug("[Selection] Selection served", attrs...)

	if s.recorder == nil {
		return
	}
	rec := Record{
		ID:                   uuid.NewString(),
		CatalogVersion:       res.CatalogVersion,
		Anchor:               res.Query.Anchor,
		Measures:             res.Query.Measures,
		Dimensions:           res.Query.Dimensions,
		Matched:              res.Matched,
		EffectiveGranularity: res.EffectiveGranularity.String(),
		Reason:               string(res.Reason),
		CreatedAt:            s.nowFn(),
	}
	if res.PreAggregation != nil {
		rec.PreAggregation = res.PreAggregation.String()
	}
	if err := s.recorder.RecordSelection(ctx, rec); err != nil {
		slog.Warn("[Selection] Failed to record selection", "error", err)
	}
}
