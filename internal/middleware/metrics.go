package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/groupguard/groupguard/internal/telemetry"
)

// noRoute labels requests that matched no route so raw URLs never become label values
const noRoute = "<no-route>"

// MetricsMiddleware records request count, latency and in-flight requests.
// The path label is the matched route template (c.FullPath()), so group and
// user ids stay out of label values. Requests for skipPaths, typically the
// liveness and readiness probes, are not recorded.
//
// Register it after gin.Recovery() so the status written by recovery is seen.
func MetricsMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		telemetry.HTTPRequestsInFlight.Inc()
		defer telemetry.HTTPRequestsInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
