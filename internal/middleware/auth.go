// Package middleware provides Gin HTTP middleware for the admin API and the
// webhook endpoint: request ids, metrics, security headers, rate limiting and
// bearer-token authentication.
//
// Middleware ordering is enforced in router.go:
//
//	RequestID → Metrics → Logger → Security → RateLimit → AdminAuth → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth so token guessing is throttled.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/groupguard/groupguard/internal/auth"
)

// AdminSubjectKey is the gin.Context key holding the authenticated token subject
const AdminSubjectKey = "admin_subject"

// TokenValidator validates an admin bearer token
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// AdminAuthMiddleware requires a valid admin bearer token. A nil validator
// disables authentication and lets every request through.
func AdminAuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c, "Authorization header must start with 'Bearer '")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			abortUnauthorized(c, "Authorization token is empty")
			return
		}

		claims, err := validator.Validate(token)
		if err != nil {
			abortUnauthorized(c, "Invalid credentials")
			return
		}

		c.Set(AdminSubjectKey, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="groupguard"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   msg,
	})
}
