package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultContentSecurityPolicy restricts resources to same origin, allowing remote gallery images.
	DefaultContentSecurityPolicy = "default-src 'self'; img-src 'self' data: https:; frame-ancestors 'none'"

	hstsValue = "max-age=31536000; includeSubDomains"
)

// SecurityHeaders hardens responses against framing and MIME sniffing. Uploaded images are
// embedded by dashboards on other origins, so resources are marked cross-origin readable.
// HSTS is only sent on HTTPS requests since kiosks on a LAN often reach the server over HTTP.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", DefaultContentSecurityPolicy)
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if isHTTPS(c) {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		c.Next()
	}
}

func isHTTPS(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(c.GetHeader("X-Forwarded-Proto")), "https")
}
