package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/scanctl/internal/catalog"
	"github.com/danmuck/scanctl/internal/observability"
	"github.com/danmuck/scanctl/internal/scheduler"
	"github.com/danmuck/scanctl/internal/tools"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

var ErrScanNotFound = errors.New("api: scan not found")

// Queue is the scheduler surface the server submits to.
type Queue interface {
	Add(job *scheduler.Job) (string, error)
	PendingLen() int
	RunningLen() int
}

// Catalog builds tools by name.
type Catalog interface {
	Build(name, target string) (*tools.Tool, error)
	List() []catalog.Definition
}

type Config struct {
	ID               string
	Addr             string
	CORSOrigins      []string
	TerminateTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ID:               "scanctl",
		Addr:             ":9010",
		TerminateTimeout: 15 * time.Second,
	}
}

type Server struct {
	cfg     Config
	queue   Queue
	catalog Catalog
	store   *Store
	started time.Time

	router *gin.Engine
	http   *http.Server
}

func New(cfg Config, queue Queue, cat Catalog) *Server {
	if cfg.ID == "" {
		cfg.ID = DefaultConfig().ID
	}
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = DefaultConfig().TerminateTimeout
	}
	observability.RegisterMetrics()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", observability.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		queue:   queue,
		catalog: cat,
		store:   NewStore(),
		started: time.Now(),
		router:  r,
	}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Store() *Store {
	return s.store
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.ID,
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"pending": s.queue.PendingLen(),
			"running": s.queue.RunningLen(),
			"service": s.cfg.ID,
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/tools", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tools": s.catalog.List()})
	})

	s.router.POST("/scans", s.handleSubmit)
	s.router.GET("/scans", func(c *gin.Context) {
		jobs := s.store.List()
		views := make([]ScanView, 0, len(jobs))
		for _, job := range jobs {
			views = append(views, newScanView(job))
		}
		c.JSON(http.StatusOK, gin.H{"scans": views})
	})
	s.router.GET("/scans/:id", func(c *gin.Context) {
		job, ok := s.store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrScanNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, newScanView(job))
	})
	s.router.POST("/scans/:id/terminate", s.handleTerminate)
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.Submit(req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, catalog.ErrUnknownTool):
			status = http.StatusNotFound
		case errors.Is(err, scheduler.ErrInvalidJob),
			errors.Is(err, catalog.ErrUnknownParser),
			errors.Is(err, catalog.ErrInvalidTarget):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scan_id": id})
}

// Submit builds a fresh tool for the request and queues it.
func (s *Server) Submit(req ScanRequest) (string, error) {
	tool, err := s.catalog.Build(strings.TrimSpace(req.Tool), req.Target)
	if err != nil {
		return "", err
	}
	job := scheduler.NewJob(tool, req.Submitter, req.Alias, req.Target)
	id, err := s.queue.Add(job)
	if err != nil {
		return "", err
	}
	s.store.Put(job)
	return id, nil
}

func (s *Server) handleTerminate(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.TerminateTimeout)
	defer cancel()

	err := s.Terminate(ctx, id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"scan_id": id, "status": "terminated"})
	case errors.Is(err, ErrScanNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, tools.ErrNotRunning), errors.Is(err, tools.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Terminate stops the tool behind scan id.
func (s *Server) Terminate(ctx context.Context, id string) error {
	job, ok := s.store.Get(id)
	if !ok {
		return ErrScanNotFound
	}
	err := job.Tool.Terminate(ctx)
	observability.RecordTermination(job.Tool.Name(), err == nil)
	if err != nil {
		log.Warn().Msgf("api.Server.Terminate refused scan_id=%s err=%v", id, err)
		return err
	}
	log.Info().Msgf("api.Server.Terminate scan_id=%s tool=%q", id, job.Tool.Name())
	return nil
}

// Serve listens on the configured address until Shutdown.
func (s *Server) Serve() error {
	log.Info().Msgf("api.Server.Serve addr=%s", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
