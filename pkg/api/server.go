package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"testhive/pkg/api/middleware"
	"testhive/pkg/logger"
	"testhive/pkg/pool"
	"testhive/pkg/queue"
	"testhive/pkg/storage"
)

// Server is the HTTP boundary over the orchestrator core. It owns no job
// state: every handler translates between wire shapes and the typed
// operations of the Queue and Pool.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	queue *queue.Queue
	pool  *pool.Pool
	store storage.JobStore
}

// Config holds API server configuration.
type Config struct {
	Port        string
	Queue       *queue.Queue
	Pool        *pool.Pool
	Store       storage.JobStore
	TracingName string // enables the tracing middleware when non-empty
}

// NewServer builds the router, middleware chain, and routes.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Metrics())
	if cfg.TracingName != "" {
		router.Use(middleware.Tracing(cfg.TracingName))
	}
	router.Use(requestLogger())
	router.Use(middleware.RateLimit())
	router.Use(middleware.BodySizeLimit(1 << 20)) // 1MB

	s := &Server{
		router: router,
		queue:  cfg.Queue,
		pool:   cfg.Pool,
		store:  cfg.Store,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Info("api server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", s.submitJob)
			jobs.GET("", s.listJobs)
			jobs.GET("/:id", s.getJob)
			jobs.POST("/:id/cancel", s.cancelJob)
			jobs.POST("/:id/retry", s.retryJob)
		}
		v1.GET("/stats", s.getStats)
		v1.GET("/groups", s.listGroups)
		v1.GET("/devices", s.listDevices)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// healthCheck probes the backing store with a cheap read.
func (s *Server) healthCheck(c *gin.Context) {
	deps := make(map[string]bool)

	_, err := s.store.Get(c.Request.Context(), "health-probe")
	deps["store"] = err == nil || errors.Is(err, storage.ErrNotFound)
	deps["pool"] = s.pool != nil

	healthy := true
	for _, ok := range deps {
		if !ok {
			healthy = false
			break
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC(),
	})
}
