package moderation

import (
	"context"
	"time"

	"github.com/groupguard/groupguard/internal/db/models"
)

// GroupStore persists monitored groups. GetGroup returns nil, nil for an unknown id.
type GroupStore interface {
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
	CreateGroupIfAbsent(ctx context.Context, group *models.Group) (*models.Group, bool, error)
	// UpdateGroup writes group and appends entry (if non-nil) atomically
	UpdateGroup(ctx context.Context, group *models.Group, entry *models.AuditLog) error
}

// MemberStore persists group membership
type MemberStore interface {
	UpsertMember(ctx context.Context, member *models.Member) error
	DeleteMembers(ctx context.Context, groupID string, userIDs []string) (int64, error)
	ListMembers(ctx context.Context, groupID string) ([]*models.Member, error)
	CountMembers(ctx context.Context, groupID string) (int, error)
}

// BlacklistStore persists blacklist entries. A nil group id addresses the
// global scope. Create and Delete append entry in the same transaction.
type BlacklistStore interface {
	CreateBlacklistEntry(ctx context.Context, e *models.BlacklistEntry, entry *models.AuditLog) (bool, error)
	DeleteBlacklistEntry(ctx context.Context, groupID *string, userID string, entry *models.AuditLog) (bool, error)
	FindBlacklistEntry(ctx context.Context, groupID, userID string) (*models.BlacklistEntry, error)
	ListBlacklist(ctx context.Context, groupID *string) ([]*models.BlacklistEntry, error)
	CountBlacklist(ctx context.Context, groupID string) (int, error)
}

// AuditStore appends and queries audit rows. There is no update or delete.
type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogsSince(ctx context.Context, groupID string, action models.AuditAction, since time.Time) ([]*models.AuditLog, error)
	CountAuditLogsSince(ctx context.Context, groupID string, since time.Time) (int, error)
	ListAuditLogs(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, int, error)
	GlobalStatistics(ctx context.Context, since time.Time) (*models.GlobalStatistics, error)
}

// Stores bundles the persistence interfaces the service depends on
type Stores struct {
	Groups    GroupStore
	Members   MemberStore
	Blacklist BlacklistStore
	Audit     AuditStore
}

// Notifier sends a direct text message to a user
type Notifier interface {
	PushText(ctx context.Context, to, text string) error
}
