package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/clearance/api/handler"
	"github.com/use-agent/clearance/api/middleware"
	"github.com/use-agent/clearance/cache"
	"github.com/use-agent/clearance/cleaner"
	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/harvest"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
// f launches the browser for harvest jobs.
func NewRouter(sess *engine.Session, f harvest.DriverFactory, cfg *config.Config, cc *cache.Cache, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health, no auth required.
	v1.GET("/health", handler.Health(sess, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Fetch through the cascade
	protected.POST("/fetch", handler.Fetch(sess, cleaner.New(), cc))

	// Session cookies
	protected.GET("/cookies", handler.GetCookies(sess))
	protected.PUT("/cookies", handler.PutCookies(sess, cc))
	protected.DELETE("/cookies", handler.DeleteCookies(sess, cc))

	// Harvest
	protected.POST("/harvest", handler.PostHarvest(sess, f, cfg, cc))
	protected.GET("/harvest/:id", handler.GetHarvest())
	protected.DELETE("/harvest/:id", handler.DeleteHarvest())

	return r
}
