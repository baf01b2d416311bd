// Package admin implements the /api/admin REST surface: group inspection,
// settings, blacklist management, audit log browsing and statistics.
//
// Every response body carries a boolean "success" field. Successful responses
// add their payload keys next to it; failures add "error".
package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/groupguard/groupguard/internal/middleware"
	"github.com/groupguard/groupguard/internal/moderation"
)

func ok(c *gin.Context, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// failErr maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported as 500 without leaking details.
func failErr(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, moderation.ErrGroupNotFound):
		fail(c, http.StatusNotFound, "Group not found")
	case errors.Is(err, moderation.ErrInvalidThreshold):
		fail(c, http.StatusBadRequest, "Invalid threshold value")
	default:
		middleware.Logger(c).Error("admin api request failed", "op", op, "path", c.FullPath(), "error", err)
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}
