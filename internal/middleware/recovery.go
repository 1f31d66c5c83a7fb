package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/opsdash/pkg/errors"
	"github.com/charlesng35/opsdash/pkg/logger"
	"github.com/charlesng35/opsdash/pkg/metrics"
	"github.com/charlesng35/opsdash/pkg/response"
)

// Recovery converts handler panics into the internal error envelope. The panic value is
// logged with a stack but never sent to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			metrics.Panics.WithLabelValues(route).Inc()
			logger.WithModule("http").Error("panic",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("error", r),
				zap.Stack("stack"),
			)
			response.Abort(c, errors.ErrInternalServer.WithInternal(fmt.Errorf("panic: %v", r)))
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage(fmt.Sprintf("route %s not found", c.Request.URL.Path)))
}
