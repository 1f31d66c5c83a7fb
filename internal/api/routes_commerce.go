package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/opsdash/internal/handlers"
)

func registerCommerceRoutes(api *gin.RouterGroup, handler *handlers.CommerceHandler) {
	provider := api.Group("/:provider", handlers.RequireProvider(handlers.ProviderShopify))
	{
		provider.GET("/ping", handler.Ping)
		provider.GET("/auth/:storeType", handler.Authorize)
		provider.GET("/callback/:storeType", handler.Callback)
		provider.POST("/sync", handler.Sync)
	}
}
