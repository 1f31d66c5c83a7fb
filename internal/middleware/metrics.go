package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/opsdash/pkg/metrics"
)

// unmatchedRoute labels requests that hit no route, so scanners cannot inflate label cardinality.
const unmatchedRoute = "unmatched"

// Metrics records request latency metrics for each HTTP request, labelled by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
