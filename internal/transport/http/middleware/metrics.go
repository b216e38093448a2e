package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medisphere/pharmacy-platform-auth/internal/infra/telemetry"
)

// Metrics records request counts and latencies on the shared telemetry
// collectors. Routes are labelled by their registered pattern, not the raw
// path, to keep cardinality bounded.
func Metrics(m *telemetry.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		if m.HTTPRequests != nil {
			m.HTTPRequests.WithLabelValues(method, route, status).Inc()
		}
		if m.HTTPDuration != nil {
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		}
	}
}
