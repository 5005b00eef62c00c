package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Reloader reloads the registry on a cron schedule, e.g. "@every 30s".
type Reloader struct {
	registry *Registry
	schedule string
	cron     *cron.Cron
}

// NewReloader creates a reloader for registry.
func NewReloader(registry *Registry, schedule string) *Reloader {
	return &Reloader{
		registry: registry,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the reload job and starts the scheduler. The job runs
// until Stop is called or ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		r.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	slog.Info("[Reloader] Catalog reloader started", "schedule", r.schedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running reload to finish.
func (r *Reloader) Stop() {
	<-r.cron.Stop().Done()
	slog.Info("[Reloader] Catalog reloader stopped")
}

func (r *Reloader) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	snap, published, err := r.registry.Reload(ctx)
	if err != nil {
		slog.Warn("[Reloader] Reload failed, keeping current snapshot", "error", err)
		return
	}
	if published {
		slog.Info("[Reloader] New catalog version", "version", snap.Version(), "fingerprint", snap.Fingerprint())
	}
}
