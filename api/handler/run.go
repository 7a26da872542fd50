package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/runner"
)

// Run returns a handler for GET /api/v1/run with the live progress snapshot.
func Run(p *runner.Progress) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.APIResponse{Success: true, Data: p.Snapshot()})
	}
}
