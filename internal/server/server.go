package server

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aevon-lab/aevon-rollups/internal/catalog"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// CatalogProvider reports the currently published catalog.
type CatalogProvider interface {
	Current() (*catalog.Snapshot, error)
}

type Server struct {
	Engine *gin.Engine
	Addr   string

	catalog         CatalogProvider
	db              *sql.DB
	shutdownTimeout time.Duration
}

// Options configures optional server dependencies.
type Options struct {
	Mode            string // debug | release
	MaxBodySizeMB   int
	ShutdownTimeout time.Duration

	// DB is checked by /health when set.
	DB *sql.DB
}

func New(addr string, provider CatalogProvider, opts Options) *Server {
	if opts.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}

	r := gin.Default()
	r.Use(traceContext())
	if opts.MaxBodySizeMB > 0 {
		r.Use(limitBody(int64(opts.MaxBodySizeMB) << 20))
	}

	s := &Server{
		Engine:          r,
		Addr:            addr,
		catalog:         provider,
		db:              opts.DB,
		shutdownTimeout: opts.ShutdownTimeout,
	}

	r.GET("/health", s.healthHandler)

	return s
}

// traceContext continues traces started by the caller.
func traceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy"}

	snap, err := s.catalog.Current()
	if err != nil {
		status := "error"
		if errors.Is(err, catalog.ErrNotLoaded) {
			status = "not_loaded"
		}
		slog.Warn("[Server] Health check failed: no catalog published", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"catalog": status,
		})
		return
	}
	body["catalog_version"] = snap.Version()
	body["cubes"] = len(snap.Cubes())

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("[Server] Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":          "unhealthy",
				"catalog_version": snap.Version(),
				"error":           "database unreachable",
			})
			return
		}
		body["database"] = "connected"
	}

	c.JSON(http.StatusOK, body)
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("[Server] Starting HTTP server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] HTTP server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
