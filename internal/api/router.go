package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opendesk-io/opendesk-ce/internal/config"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter builds the HTTP surface: ticket routes under /api, a health
// probe, and the metrics endpoint when enabled.
func NewRouter(cfg *config.Config, tickets *TicketHandler, db pinger) *gin.Engine {
	if cfg != nil && !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", healthHandler(db))
	if cfg != nil && cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	apiGroup := router.Group("/api")
	tickets.Register(apiGroup)
	return router
}

func healthHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
