package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/opsdash/internal/app"
	"github.com/charlesng35/opsdash/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, info func() handlers.HealthInfo) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		return
	}

	r.GET("/health", handlers.Health(info))
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
