package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/groupguard/groupguard/internal/moderation"
)

// BlacklistHandler manages the global blacklist, whose entries apply to every group
type BlacklistHandler struct {
	svc *moderation.Service
}

// NewBlacklistHandler creates a new global blacklist handler
func NewBlacklistHandler(svc *moderation.Service) *BlacklistHandler {
	return &BlacklistHandler{svc: svc}
}

// @Summary      List global blacklist
// @Tags         Blacklist
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "blacklist: global entries"
// @Router       /api/admin/blacklist [get]
// List returns the global blacklist
// GET /api/admin/blacklist
func (h *BlacklistHandler) List(c *gin.Context) {
	entries, err := h.svc.ListBlacklist(c.Request.Context(), "")
	if err != nil {
		failErr(c, "list global blacklist", err)
		return
	}
	ok(c, gin.H{"blacklist": entries})
}

// @Summary      Add to global blacklist
// @Tags         Blacklist
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "User blocked"
// @Failure      400  {object}  map[string]interface{}  "user_id missing or already blocked"
// @Router       /api/admin/blacklist [post]
// Add blacklists a user in every group
// POST /api/admin/blacklist
func (h *BlacklistHandler) Add(c *gin.Context) {
	req, valid := bindUserRequest(c)
	if !valid {
		return
	}
	created, err := h.svc.BlockUser(c.Request.Context(), "", req.UserID, req.Reason)
	if err != nil {
		failErr(c, "global block", err)
		return
	}
	if !created {
		fail(c, http.StatusBadRequest, "User is already blocked")
		return
	}
	ok(c, gin.H{"message": "User blocked"})
}

// Remove deletes a user's global blacklist entry
// DELETE /api/admin/blacklist/:user_id
func (h *BlacklistHandler) Remove(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		fail(c, http.StatusBadRequest, "user_id is required")
		return
	}
	removed, err := h.svc.UnblockUser(c.Request.Context(), "", userID)
	if err != nil {
		failErr(c, "global unblock", err)
		return
	}
	if !removed {
		fail(c, http.StatusNotFound, "User is not blocked")
		return
	}
	ok(c, gin.H{"message": "User unblocked"})
}
