// Package api provides the HTTP control surface for the orchestrator:
// start/pause/resume/halt a workflow, fetch its live execution state, fetch
// its reintegrated document, and stream its event taxonomy over a
// websocket.
package api

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentflow/orchestrator/pkg/config"
	"github.com/agentflow/orchestrator/pkg/controller"
	"github.com/agentflow/orchestrator/pkg/events"
	"github.com/agentflow/orchestrator/pkg/store"
	"github.com/agentflow/orchestrator/pkg/version"
)

// Server is the HTTP API server.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	cfg         *config.Config
	controller  *controller.Controller
	resultStore store.ResultStore
	connManager *events.ConnectionManager
}

// NewServer builds a Server and registers its routes.
func NewServer(cfg *config.Config, ctrl *controller.Controller, rs store.ResultStore, connManager *events.ConnectionManager) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{engine: e, cfg: cfg, controller: ctrl, resultStore: rs, connManager: connManager}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/workflows", s.startWorkflowHandler)
	v1.GET("/workflows/:id", s.executionStatusHandler)
	v1.POST("/workflows/:id/pause", s.pauseWorkflowHandler)
	v1.POST("/workflows/:id/resume", s.resumeWorkflowHandler)
	v1.POST("/workflows/:id/halt", s.haltWorkflowHandler)
	v1.GET("/workflows/:id/document", s.documentHandler)

	v1.GET("/ws", s.wsHandler)
}

// Start runs the HTTP server on addr, blocking until it stops or errors.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener runs the HTTP server on a pre-created listener, such as
// one bound to a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:            "healthy",
		Version:           version.Full(),
		ActiveConnections: s.connManager.ActiveConnections(),
	})
}
