package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health is the probe response.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: "ok"})
}

// GetReadiness handles GET /health/ready.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := map[string]string{"storage": "ok"}
	status, httpStatus := "ok", http.StatusOK

	if err := s.uow.Ping(c.Request.Context()); err != nil {
		checks["storage"] = "error"
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	checks["driver"] = s.uow.Driver()

	c.JSON(httpStatus, Health{Status: status, Checks: checks})
}
