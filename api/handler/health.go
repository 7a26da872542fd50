package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/runner"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports "degraded" once the run has aborted so probes notice a process
// that is still up but no longer harvesting.
func Health(p *runner.Progress, version string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := p.State()
		status := "healthy"
		if state == runner.Aborted {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
			State:   state.String(),
		})
	}
}
