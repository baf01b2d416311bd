// groups.go implements the per-group handlers: listing, detail, members,
// blacklist, audit logs, settings, block/unblock and activity analysis.
package admin

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/groupguard/groupguard/internal/db/models"
	"github.com/groupguard/groupguard/internal/middleware"
	"github.com/groupguard/groupguard/internal/moderation"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200

	defaultAnalysisMinutes = 5
)

// GroupsHandler handles group-related admin requests
type GroupsHandler struct {
	svc *moderation.Service
}

// NewGroupsHandler creates a new groups handler
func NewGroupsHandler(svc *moderation.Service) *GroupsHandler {
	return &GroupsHandler{svc: svc}
}

// Pagination describes one page of a listing
type Pagination struct {
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

func newPagination(page, perPage, total int) Pagination {
	pages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}

// queryInt reads a positive integer query parameter, falling back to def
func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// @Summary      List groups
// @Tags         Groups
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "groups: every monitored group, oldest first"
// @Router       /api/admin/groups [get]
// ListGroups returns every monitored group
// GET /api/admin/groups
func (h *GroupsHandler) ListGroups(c *gin.Context) {
	groups, err := h.svc.ListGroups(c.Request.Context())
	if err != nil {
		failErr(c, "list groups", err)
		return
	}
	ok(c, gin.H{"groups": groups})
}

// @Summary      Get group
// @Tags         Groups
// @Produce      json
// @Param        group_id  path  string  true  "LINE group id"
// @Success      200  {object}  map[string]interface{}  "group and statistics"
// @Failure      404  {object}  map[string]interface{}  "Group not found"
// @Router       /api/admin/groups/{group_id} [get]
// GetGroup returns a group with its statistics
// GET /api/admin/groups/:group_id
func (h *GroupsHandler) GetGroup(c *gin.Context) {
	ctx := c.Request.Context()
	groupID := c.Param("group_id")

	group, err := h.svc.GetGroup(ctx, groupID)
	if err != nil {
		failErr(c, "get group", err)
		return
	}
	stats, err := h.svc.GetGroupStatistics(ctx, groupID)
	if err != nil {
		failErr(c, "group statistics", err)
		return
	}
	ok(c, gin.H{"group": group, "statistics": stats})
}

// ListMembers returns the group's current members
// GET /api/admin/groups/:group_id/members
func (h *GroupsHandler) ListMembers(c *gin.Context) {
	members, err := h.svc.ListMembers(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		failErr(c, "list members", err)
		return
	}
	ok(c, gin.H{"members": members})
}

// ListBlacklist returns the group-scoped blacklist entries
// GET /api/admin/groups/:group_id/blacklist
func (h *GroupsHandler) ListBlacklist(c *gin.Context) {
	entries, err := h.svc.ListBlacklist(c.Request.Context(), c.Param("group_id"))
	if err != nil {
		failErr(c, "list blacklist", err)
		return
	}
	ok(c, gin.H{"blacklist": entries})
}

// @Summary      List audit logs
// @Description  Returns the group's audit rows newest first.
// @Tags         Groups
// @Produce      json
// @Param        group_id         path   string  true   "LINE group id"
// @Param        page             query  int     false  "Page number (default 1)"
// @Param        per_page         query  int     false  "Rows per page (default 50, max 200)"
// @Param        action           query  string  false  "Only rows with this action"
// @Param        suspicious_only  query  bool    false  "Only rows flagged suspicious"
// @Success      200  {object}  map[string]interface{}  "logs and pagination"
// @Failure      400  {object}  map[string]interface{}  "Unknown action"
// @Router       /api/admin/groups/{group_id}/logs [get]
// ListLogs pages through a group's audit log
// GET /api/admin/groups/:group_id/logs
func (h *GroupsHandler) ListLogs(c *gin.Context) {
	page := queryInt(c, "page", 1)
	perPage := min(queryInt(c, "per_page", defaultPerPage), maxPerPage)
	// keep (page-1)*perPage from overflowing into a negative offset
	page = min(page, math.MaxInt/perPage)

	filter := models.AuditFilter{GroupID: c.Param("group_id")}
	if action := c.Query("action"); action != "" {
		filter.Action = models.AuditAction(action)
		if !filter.Action.Valid() {
			fail(c, http.StatusBadRequest, "Unknown action: "+action)
			return
		}
	}
	filter.SuspiciousOnly, _ = strconv.ParseBool(c.Query("suspicious_only"))

	logs, total, err := h.svc.ListAuditLogs(c.Request.Context(), filter, perPage, (page-1)*perPage)
	if err != nil {
		failErr(c, "list logs", err)
		return
	}
	ok(c, gin.H{"logs": logs, "pagination": newPagination(page, perPage, total)})
}

// @Summary      Update group settings
// @Description  Any subset of threshold (positive integer), group_name (string) and admin_ids (list of strings).
// @Tags         Groups
// @Accept       json
// @Produce      json
// @Param        group_id  path  string  true  "LINE group id"
// @Success      200  {object}  map[string]interface{}  "group: the updated group"
// @Failure      400  {object}  map[string]interface{}  "Invalid field value"
// @Failure      404  {object}  map[string]interface{}  "Group not found"
// @Router       /api/admin/groups/{group_id}/settings [put]
// UpdateSettings changes a group's threshold, name or admin list
// PUT /api/admin/groups/:group_id/settings
func (h *GroupsHandler) UpdateSettings(c *gin.Context) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(c.Request.Body).Decode(&raw); err != nil {
		fail(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var upd moderation.SettingsUpdate
	if v, present := raw["threshold"]; present {
		var n int
		if err := json.Unmarshal(v, &n); err != nil || n <= 0 || n > moderation.MaxThreshold {
			fail(c, http.StatusBadRequest, "Invalid threshold value")
			return
		}
		upd.Threshold = &n
	}
	if v, present := raw["group_name"]; present {
		var name string
		if err := json.Unmarshal(v, &name); err != nil {
			fail(c, http.StatusBadRequest, "group_name must be a string")
			return
		}
		upd.GroupName = &name
	}
	if v, present := raw["admin_ids"]; present {
		var ids []string
		if err := json.Unmarshal(v, &ids); err != nil || ids == nil {
			fail(c, http.StatusBadRequest, "admin_ids must be a list")
			return
		}
		upd.AdminIDs = &ids
	}

	group, err := h.svc.UpdateSettings(c.Request.Context(), c.Param("group_id"), "", upd)
	if err != nil {
		failErr(c, "update settings", err)
		return
	}
	middleware.Logger(c).Info("group settings updated", "group_id", group.GroupID, "by", c.GetString(middleware.AdminSubjectKey))
	ok(c, gin.H{"group": group})
}

type blockRequest struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// bindUserRequest decodes a block/unblock body and requires user_id
func bindUserRequest(c *gin.Context) (*blockRequest, bool) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid JSON body")
		return nil, false
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		fail(c, http.StatusBadRequest, "user_id is required")
		return nil, false
	}
	return &req, true
}

// BlockUser blacklists a user in the group
// POST /api/admin/groups/:group_id/block
func (h *GroupsHandler) BlockUser(c *gin.Context) {
	req, valid := bindUserRequest(c)
	if !valid {
		return
	}
	created, err := h.svc.BlockUser(c.Request.Context(), c.Param("group_id"), req.UserID, req.Reason)
	if err != nil {
		failErr(c, "block user", err)
		return
	}
	if !created {
		fail(c, http.StatusBadRequest, "User is already blocked")
		return
	}
	ok(c, gin.H{"message": "User blocked"})
}

// UnblockUser removes a user from the group's blacklist
// POST /api/admin/groups/:group_id/unblock
func (h *GroupsHandler) UnblockUser(c *gin.Context) {
	req, valid := bindUserRequest(c)
	if !valid {
		return
	}
	removed, err := h.svc.UnblockUser(c.Request.Context(), c.Param("group_id"), req.UserID)
	if err != nil {
		failErr(c, "unblock user", err)
		return
	}
	if !removed {
		fail(c, http.StatusBadRequest, "User is not blocked")
		return
	}
	ok(c, gin.H{"message": "User unblocked"})
}

// @Summary      Analyze group activity
// @Tags         Groups
// @Produce      json
// @Param        group_id     path   string  true   "LINE group id"
// @Param        time_window  query  int     false  "Window in minutes (default 5)"
// @Success      200  {object}  map[string]interface{}  "analysis"
// @Failure      400  {object}  map[string]interface{}  "time_window is not a positive integer"
// @Router       /api/admin/groups/{group_id}/analyze [get]
// Analyze summarises recent activity in the group
// GET /api/admin/groups/:group_id/analyze
func (h *GroupsHandler) Analyze(c *gin.Context) {
	minutes := defaultAnalysisMinutes
	if v := c.Query("time_window"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "time_window must be a positive integer")
			return
		}
		minutes = n
	}

	analysis, err := h.svc.AnalyzeSuspiciousActivity(c.Request.Context(), c.Param("group_id"), time.Duration(minutes)*time.Minute)
	if err != nil {
		failErr(c, "analyze", err)
		return
	}
	ok(c, gin.H{"analysis": analysis})
}
