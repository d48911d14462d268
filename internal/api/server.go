// Package api exposes the controller's HTTP surface: remediation, manual
// episode triggering, status, health, and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mreider/fabrik/internal/targets"
	"github.com/mreider/fabrik/internal/types"
	"github.com/mreider/fabrik/pkg/logger"
)

// Remediator clears fault state on demand.
type Remediator interface {
	Remediate(ctx context.Context, logicalName, reason string) (types.RemediationResult, error)
}

// EpisodeTrigger short-circuits the scheduler's sleep.
type EpisodeTrigger interface {
	TriggerNow() bool
	IsRunning() bool
}

// SnapshotSource serves the current controller state.
type SnapshotSource interface {
	Snapshot() types.StatusSnapshot
}

// Server is the controller's HTTP API.
type Server struct {
	router     *gin.Engine
	srv        *http.Server
	remediator Remediator
	trigger    EpisodeTrigger
	snapshots  SnapshotSource
	log        logger.Logger
}

// NewServer builds the API server and its routes.
func NewServer(port int, remediator Remediator, trigger EpisodeTrigger, snapshots SnapshotSource, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(log))
	router.Use(ErrorHandlerMiddleware())

	s := &Server{
		router:     router,
		remediator: remediator,
		trigger:    trigger,
		snapshots:  snapshots,
		log:        log,
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/remediate", s.handleRemediate)
		v1.POST("/episodes/trigger", s.handleTrigger)
		v1.GET("/status", s.handleStatus)
	}
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http api listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type remediateRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// handleRemediate handles POST /api/v1/remediate. An empty body remediates
// the whole fleet.
func (s *Server) handleRemediate(c *gin.Context) {
	var req remediateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.Target == "" {
		req.Target = targets.All
	}

	result, err := s.remediator.Remediate(c.Request.Context(), req.Target, req.Reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"target": req.Target,
		"result": result,
	})
}

// handleTrigger handles POST /api/v1/episodes/trigger.
func (s *Server) handleTrigger(c *gin.Context) {
	if !s.trigger.IsRunning() {
		c.JSON(http.StatusConflict, gin.H{"error": "scheduler is not running"})
		return
	}
	if !s.trigger.TriggerNow() {
		c.JSON(http.StatusConflict, gin.H{"error": "an episode trigger is already pending"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "episode triggered"})
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.snapshots.Snapshot())
}
