package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/api/middleware"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/runner"
)

// NewRouter creates the status server engine.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if keys are set) → RateLimit
//
// Health stays outside auth so monitoring probes always work.
func NewRouter(p *runner.Progress, cfg config.StatusConfig, version string, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(p, version, startTime))

	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.APIKeys))
	protected.Use(middleware.RateLimit(cfg.RequestsPerSecond, cfg.Burst))
	protected.GET("/run", handler.Run(p))

	return r
}
