package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/aevon-lab/aevon-rollups/internal/catalog/formats/yaml"
	corecfg "github.com/aevon-lab/aevon-rollups/internal/core/config"
	"github.com/aevon-lab/aevon-rollups/internal/core/storage/postgres"
	"github.com/aevon-lab/aevon-rollups/internal/migrations"
	"github.com/aevon-lab/aevon-rollups/internal/observability"
	"github.com/aevon-lab/aevon-rollups/internal/selection"
	"github.com/aevon-lab/aevon-rollups/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the selection HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Flags given explicitly win over the config file.
	level, format := cfg.Log.Level, cfg.Log.Format
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		format = logFormat
	}
	setupLogging(level, format)
	slog.Info("Loaded config", "model_dir", cfg.Model.Dir, "database", cfg.Database.Enabled, "tracing", cfg.Tracing.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slog.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	registry := catalog.NewRegistry(catalog.NewFileSystemSource(cfg.Model.Dir), yaml.NewCompiler())
	svc := selection.NewService(registry).
		WithCacheCapacity(cfg.Selection.CacheCapacity).
		WithDefaults(selection.Options{
			DisableRollups:     cfg.Selection.DisableRollups,
			DisableOriginalSQL: cfg.Selection.DisableOriginalSQL,
		})

	serverOpts := server.Options{
		Mode:            cfg.Server.Mode,
		MaxBodySizeMB:   cfg.Server.MaxBodySizeMB,
		ShutdownTimeout: cfg.Server.EffectiveShutdownTimeout(),
	}

	if cfg.Database.Enabled {
		store, err := openAuditStore(cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()

		registry.WithRecorder(store)
		svc.WithRecorder(store).WithFreshnessChecker(store)
		serverOpts.DB = store.DB()
	} else {
		slog.Info("Audit store disabled by config")
	}

	// A broken model at startup is fatal; later reloads keep the last good one.
	snap, _, err := registry.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load data model from %s: %w", cfg.Model.Dir, err)
	}
	slog.Info("Data model loaded",
		"version", snap.Version(),
		"cubes", len(snap.Cubes()),
		"pre_aggregations", snap.PreAggregationCount(),
		"warnings", len(snap.Warnings()),
	)
	for _, w := range snap.Warnings() {
		slog.Warn("Data model warning", "warning", w.Error())
	}

	if cfg.Model.ReloadSchedule != "" {
		reloader := catalog.NewReloader(registry, cfg.Model.ReloadSchedule)
		if err := reloader.Start(ctx); err != nil {
			return err
		}
	} else {
		slog.Info("Data model reloads disabled by config")
	}

	srv := server.New(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), registry, serverOpts)
	svc.RegisterRoutes(srv.Engine)

	// Run blocks until ctx is cancelled by a signal.
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}

func openAuditStore(cfg corecfg.DatabaseConfig) (*postgres.Adapter, error) {
	db, err := postgres.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := migrations.RunMigrations(db, cfg.AutoMigrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	store, err := postgres.NewAdapter(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
