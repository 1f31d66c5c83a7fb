package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/opsdash/pkg/response"
)

// HealthInfo names the backends chosen at startup.
type HealthInfo struct {
	ConfigBackend string
	ImageBackend  string
	// AuthenticatedShops lists the shop domains holding an access token.
	AuthenticatedShops []string
}

// Health returns a simple status payload useful for readiness checks, including which
// config backend is active so operators can spot a deployment running on the local file.
func Health(info func() HealthInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}
		if info != nil {
			current := info()
			payload["config_backend"] = current.ConfigBackend
			payload["image_backend"] = current.ImageBackend
			shops := current.AuthenticatedShops
			if shops == nil {
				shops = []string{}
			}
			payload["authenticated_shops"] = shops
		}
		response.Success(c, http.StatusOK, payload)
	}
}
