// Package api serves a read-only HTTP view of the store: run ledger, export
// projection, duplicate diagnostics and table counts.
package api

import (
	"context"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/roach88/grab/internal/store"
)

// Reader is the read side of the store the API exposes.
type Reader interface {
	ListSyncRuns(ctx context.Context, limit int) ([]store.SyncRun, error)
	GetSyncRun(ctx context.Context, correlationID string) (store.SyncRun, error)
	ExportRows(ctx context.Context) ([]store.ExportRow, error)
	DuplicateDiagnostics(ctx context.Context) (store.Duplicates, error)
	Counts(ctx context.Context) (map[string]int64, error)
}

// Options configures NewRouter.
type Options struct {
	// Mode is the gin mode (debug, release, test). Empty means release.
	Mode string
	// Pprof mounts the profiling handlers under /debug/pprof.
	Pprof bool
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(r Reader, logger *logrus.Logger, opts Options) *gin.Engine {
	mode := opts.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	if opts.Pprof {
		pprof.Register(engine)
	}

	h := NewHandler(r, logger)
	engine.GET("/healthz", h.Health)

	api := engine.Group("/api")
	api.GET("/runs", h.ListRuns)
	api.GET("/runs/:correlation_id", h.GetRun)
	api.GET("/export", h.Export)
	api.GET("/duplicates", h.Duplicates)
	api.GET("/counts", h.Counts)
	return engine
}

// requestLogger logs one entry per request through logrus.
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("http request")
	}
}
