package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/naap-platform/naap-runtime/internal/telemetry"
)

// MetricsMiddleware records request count and latency for every request.
//
// The route label comes from c.FullPath(), the matched Gin route template
// (e.g. /api/v1/gw/admin/connectors/:id), never the raw URL, so connector
// slugs and plugin names cannot inflate label cardinality. Requests that
// match no route use the literal "<no-route>".
//
// Register after gin.Recovery() and RequestIDMiddleware so the status set by
// error handlers is captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "<no-route>"
		}

		status := strconv.Itoa(c.Writer.Status())
		telemetry.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
