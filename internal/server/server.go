package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/kode4food/timebox"

	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/util"
)

// Server implements the HTTP API server for the run engine
type Server struct {
	engine   *engine.Engine
	eventHub timebox.EventHub
	sockets  util.Set[*Client]
	mu       sync.Mutex
}

var (
	ErrInvalidJSON = errors.New("invalid JSON request")
	ErrListRuns    = errors.New("failed to list runs")
	ErrGetRun      = errors.New("failed to get run")
	ErrStartRun    = errors.New("failed to start run")
)

// NewServer creates a new HTTP API server
func NewServer(eng *engine.Engine, hub timebox.EventHub) *Server {
	return &Server{
		engine:   eng,
		eventHub: hub,
		sockets:  util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods", "GET, POST, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	router.GET("/health", s.handleHealth)

	eng := router.Group("/engine")
	{
		// Flow endpoints
		eng.GET("/flow", s.listFlows)

		// Run endpoints
		eng.GET("/run", s.listRuns)
		eng.POST("/run", s.startRun)
		eng.GET("/run/:runID", s.getRun)
		eng.GET("/run/:runID/steps", s.listSteps)
		eng.GET("/run/:runID/steps/:step", s.getStep)
		eng.GET("/run/:runID/pages", s.listPages)
		eng.GET("/run/:runID/task", s.getTask)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, api.ErrorResponse{
		Error:  err.Error(),
		Status: status,
	})
}

func wrapError(base, err error) error {
	return fmt.Errorf("%w: %w", base, err)
}
