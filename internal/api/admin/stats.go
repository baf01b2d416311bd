package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/groupguard/groupguard/internal/moderation"
)

// StatsHandler serves cross-group statistics
type StatsHandler struct {
	svc *moderation.Service
}

// NewStatsHandler creates a new statistics handler
func NewStatsHandler(svc *moderation.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// @Summary      Global statistics
// @Tags         Statistics
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "statistics"
// @Router       /api/admin/statistics [get]
// GetStatistics returns totals across every group
// GET /api/admin/statistics
func (h *StatsHandler) GetStatistics(c *gin.Context) {
	stats, err := h.svc.GlobalStatistics(c.Request.Context())
	if err != nil {
		failErr(c, "global statistics", err)
		return
	}
	ok(c, gin.H{"statistics": stats})
}

// RegisterRoutes mounts every admin handler on rg
func RegisterRoutes(rg *gin.RouterGroup, svc *moderation.Service) {
	groups := NewGroupsHandler(svc)
	rg.GET("/groups", groups.ListGroups)
	rg.GET("/groups/:group_id", groups.GetGroup)
	rg.GET("/groups/:group_id/members", groups.ListMembers)
	rg.GET("/groups/:group_id/blacklist", groups.ListBlacklist)
	rg.GET("/groups/:group_id/logs", groups.ListLogs)
	rg.PUT("/groups/:group_id/settings", groups.UpdateSettings)
	rg.POST("/groups/:group_id/block", groups.BlockUser)
	rg.POST("/groups/:group_id/unblock", groups.UnblockUser)
	rg.GET("/groups/:group_id/analyze", groups.Analyze)

	blacklist := NewBlacklistHandler(svc)
	rg.GET("/blacklist", blacklist.List)
	rg.POST("/blacklist", blacklist.Add)
	rg.DELETE("/blacklist/:user_id", blacklist.Remove)

	rg.GET("/statistics", NewStatsHandler(svc).GetStatistics)
}
