package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when only the plain fallback is left in the cascade.
func Health(sess *engine.Session, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		caps := sess.Capabilities()
		strategies := make([]models.StrategyStatus, 0, len(caps))
		active := 0
		for _, cp := range caps {
			strategies = append(strategies, models.StrategyStatus{
				Name:      cp.Name,
				Priority:  cp.Priority,
				Available: cp.Available,
				Reason:    cp.Reason,
			})
			if cp.Available && cp.Name != engine.NamePlain {
				active++
			}
		}

		status := "healthy"
		if active == 0 {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			Strategies: strategies,
			LastMethod: sess.LastMethod(),
			Cookies:    sess.Jar().Len(),
			Harvests:   activeHarvests(),
			Version:    Version,
		})
	}
}
