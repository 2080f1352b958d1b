// Package api exposes the HTTP surface: job submission, status, cancel,
// delete, artifact streaming with byte-range support, the two HTML pages
// and the health/metrics endpoints.
package api

import (
	"context"
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blogcast/blogcast/pkg/admission"
	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/queue"
	"github.com/blogcast/blogcast/pkg/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Store is the record-store surface the handlers need.
type Store interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, id string, patch store.Patch) (*models.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// WorkerPool is the local pool surface used for health reporting and the
// cancel fast-path. Nil when this process runs without the worker role.
type WorkerPool interface {
	Health(ctx context.Context) *queue.PoolHealth
	CancelJob(jobID string) bool
}

// Server is the API server.
type Server struct {
	store     Store
	admission *admission.Controller
	pool      WorkerPool
	clock     clock.Clock
	dataRoot  string

	engine *gin.Engine
	http   *http.Server
}

// NewServer wires the routes. pool may be nil.
func NewServer(st Store, adm *admission.Controller, pool WorkerPool, clk clock.Clock, dataRoot string) *Server {
	s := &Server{
		store:     st,
		admission: adm,
		pool:      pool,
		clock:     clk,
		dataRoot:  dataRoot,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), requestLogger())
	engine.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	jobs := engine.Group("/api/jobs")
	{
		jobs.POST("", s.submitJob)
		jobs.GET("/:id", s.getJob)
		jobs.POST("/:id/cancel", s.cancelJob)
		jobs.DELETE("/:id", s.deleteJob)
		jobs.GET("/:id/download", s.downloadVideo)
		jobs.GET("/:id/video", s.downloadVideo)
	}

	engine.GET("/jobs", s.submitPage)
	engine.GET("/jobs/:id", s.statusPage)
	engine.GET("/api/health", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine = engine
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving on addr. Blocks until shutdown or failure.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// health reports process health, including the worker pool when this
// process carries the worker role.
func (s *Server) health(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "role": "server"})
		return
	}
	h := s.pool.Health(c.Request.Context())
	status := http.StatusOK
	if !h.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": healthWord(h.IsHealthy), "pool": h})
}

func healthWord(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
