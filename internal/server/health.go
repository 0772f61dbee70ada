package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/tartan"
	"github.com/kode4food/tartan/pkg/api"
)

const (
	healthHealthy   = "healthy"
	healthUnhealthy = "unhealthy"
)

// handleHealth reports the service as healthy when the run index can be
// read, along with the number of runs in progress
func (s *Server) handleHealth(c *gin.Context) {
	res := api.HealthResponse{
		Service: tartan.Name,
		Version: tartan.Version,
		Status:  healthHealthy,
	}
	runs, err := s.engine.ListActiveRuns(c.Request.Context())
	if err != nil {
		res.Status = healthUnhealthy
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	res.Runs = len(runs)
	c.JSON(http.StatusOK, res)
}
