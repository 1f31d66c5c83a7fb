package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/opsdash/internal/handlers"
)

func registerDashboardRoutes(api *gin.RouterGroup, handler *handlers.DashboardHandler) {
	api.GET("/config", handler.Get)
	api.POST("/config", handler.Update)
}

func registerGalleryRoutes(api *gin.RouterGroup, handler *handlers.GalleryHandler) {
	api.POST("/upload", handler.Upload)
	api.DELETE("/gallery/:filename", handler.Delete)
}
