package moderation

import (
	"context"
	"log/slog"

	"github.com/groupguard/groupguard/internal/db/models"
	"github.com/groupguard/groupguard/internal/telemetry"
)

// MassJoinSuspicious reports whether recent joins plus the incoming batch
// exceed the group's threshold.
func MassJoinSuspicious(recent, incoming, threshold int) bool {
	return recent+incoming > threshold
}

// CheckMassJoin sums the members recorded on the group's member_join rows
// inside the join window, adds incoming, and compares against the group's
// threshold. Unknown groups and store failures are not suspicious.
func (s *Service) CheckMassJoin(ctx context.Context, groupID string, incoming int) bool {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		slog.Error("mass-join check: failed to load group", "group_id", groupID, "error", err)
		return false
	}
	if group == nil {
		return false
	}

	since := s.now().Add(-s.joinWindow)
	rows, err := s.audit.ListAuditLogsSince(ctx, groupID, models.ActionMemberJoin, since)
	if err != nil {
		slog.Error("mass-join check: failed to list recent joins", "group_id", groupID, "error", err)
		return false
	}

	recent := 0
	for _, row := range rows {
		recent += row.JoinedCount()
	}

	if !MassJoinSuspicious(recent, incoming, group.Threshold) {
		return false
	}
	telemetry.MassJoinDetectionsTotal.Inc()
	slog.Warn("mass join detected",
		"group_id", groupID,
		"recent", recent,
		"incoming", incoming,
		"threshold", group.Threshold,
		"window", s.joinWindow)
	return true
}
