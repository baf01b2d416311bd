// Package api wires together all HTTP routes for the groupguard server.
//
// Route grouping:
//   - /webhook is authenticated by the LINE channel signature only.
//   - /health and /ready are open for load balancers and orchestrators.
//   - /api/admin/ carries security headers, per-IP rate limiting and, when a
//     JWT secret is configured, bearer token authentication.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/groupguard/groupguard/internal/api/admin"
	"github.com/groupguard/groupguard/internal/api/webhooks"
	"github.com/groupguard/groupguard/internal/config"
	"github.com/groupguard/groupguard/internal/middleware"
	"github.com/groupguard/groupguard/internal/moderation"
)

// Deps are the collaborators the router mounts handlers on
type Deps struct {
	Service    *moderation.Service
	Dispatcher webhooks.EventDispatcher

	// Ping checks the backing store for /ready. Nil reports ready.
	Ping func(ctx context.Context) error
	// Redis, when set, backs the admin rate limiter so limits hold across replicas
	Redis *redis.Client
	// Tokens validates admin bearer tokens. Nil leaves the admin API open.
	Tokens middleware.TokenValidator
}

// BackgroundServices holds resources started by NewRouter that must be
// stopped during graceful shutdown
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. Call it after the HTTP server has
// been shut down so in-flight requests drain first.
func (bg *BackgroundServices) Shutdown() {
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("router background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Deps) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware("/health", "/ready"))
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	router.GET("/health", healthCheckHandler(cfg.Line.Configured()))
	router.GET("/ready", readinessHandler(deps.Ping))

	router.POST("/webhook", webhooks.NewLineWebhookHandler(cfg.Line, deps.Dispatcher).HandleWebhook)

	adminGroup := router.Group("/api/admin")
	adminGroup.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if deps.Redis != nil {
			adminGroup.Use(middleware.RateLimitMiddleware(middleware.NewRedisRateLimiter(deps.Redis, rlCfg)))
			slog.Info("admin API rate limiting backed by redis", "requests_per_minute", rlCfg.RequestsPerMinute)
		} else {
			rl := middleware.NewRateLimiter(rlCfg)
			bg.rateLimiters = append(bg.rateLimiters, rl)
			adminGroup.Use(middleware.RateLimitMiddleware(rl))
		}
	}
	if deps.Tokens == nil {
		slog.Warn("admin.jwt_secret is empty; the admin API is unauthenticated")
	}
	adminGroup.Use(middleware.AdminAuthMiddleware(deps.Tokens))
	admin.RegisterRoutes(adminGroup, deps.Service)

	return router, bg
}

// @Summary      Health check
// @Description  Liveness probe. Reports whether LINE credentials are configured.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, bot_configured, timestamp"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(botConfigured bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"bot_configured": botConfigured,
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks store connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service
func readinessHandler(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				slog.Warn("readiness probe failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": gin.H{"database": "unhealthy"},
					"error":  "database not ready",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": gin.H{"database": "healthy"},
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// LoggerMiddleware logs one structured record per request. The output format
// follows the handler installed by telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		case path == "/health" || path == "/ready":
			level = slog.LevelDebug
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("service", cfg.Telemetry.ServiceName),
		)
	}
}

// CORSMiddleware handles CORS for the admin dashboard
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
