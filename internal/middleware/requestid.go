package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware returns a Gin handler that ensures every request carries a unique
// identifier. An inbound X-Request-ID (set by a load balancer or caller) is reused,
// otherwise a UUID v4 is generated. The id is stored under RequestIDKey and echoed
// in the response header.
//
// Register it before MetricsMiddleware and LoggerMiddleware so every log line carries it.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// Logger returns the default logger tagged with the request id, for handlers
// that log more than once per request.
func Logger(c *gin.Context) *slog.Logger {
	if id := c.GetString(RequestIDKey); id != "" {
		return slog.With("request_id", id)
	}
	return slog.Default()
}
