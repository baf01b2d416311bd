// Package moderation implements the group protection rules: mass-join
// detection, blacklist management, admin notification and the audit trail
// every handled event leaves behind.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/groupguard/groupguard/internal/audit"
	"github.com/groupguard/groupguard/internal/db/models"
	"github.com/groupguard/groupguard/internal/safego"
	"github.com/groupguard/groupguard/internal/telemetry"
)

const (
	// DefaultJoinWindow is the trailing window summed by the mass-join check
	DefaultJoinWindow = 60 * time.Second
	// DefaultAnalysisWindow is the window used by AnalyzeSuspiciousActivity when none is given
	DefaultAnalysisWindow = 5 * time.Minute

	// ReasonBlacklistedUser is recorded on kick attempts triggered by the blacklist
	ReasonBlacklistedUser = "blacklisted_user"

	alertPrefix = "[Anti-takeover alert]"
	shipTimeout = 10 * time.Second

	// MaxThreshold is the largest threshold the INTEGER column can hold
	MaxThreshold = math.MaxInt32

	analysisJoinLimit  = 10
	analysisTotalLimit = 50
)

var (
	// ErrGroupNotFound is returned for operations on a group the bot has never seen
	ErrGroupNotFound = errors.New("group not found")
	// ErrInvalidThreshold is returned when a threshold is not a positive integer
	// that fits the threshold column
	ErrInvalidThreshold = errors.New("threshold must be a positive integer")
)

// Service coordinates the stores, the messaging client and audit shipping
type Service struct {
	groups    GroupStore
	members   MemberStore
	blacklist BlacklistStore
	audit     AuditStore

	notifier    Notifier
	shipper     audit.Shipper
	now         func() time.Time
	joinWindow  time.Duration
	threshold   int
	superAdmins map[string]bool
	bootstrap   []string
	pending     safego.Group
}

// Option configures a Service
type Option func(*Service)

// WithShipper copies every recorded audit row to shipper
func WithShipper(shipper audit.Shipper) Option {
	return func(s *Service) { s.shipper = shipper }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithJoinWindow sets the mass-join window
func WithJoinWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.joinWindow = d
		}
	}
}

// WithDefaultThreshold sets the threshold given to newly created groups
func WithDefaultThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithSuperAdmins grants admin rights in every group to ids. New groups start
// with these ids on their admin list.
func WithSuperAdmins(ids []string) Option {
	return func(s *Service) {
		for _, id := range ids {
			if id != "" && !s.superAdmins[id] {
				s.superAdmins[id] = true
				s.bootstrap = append(s.bootstrap, id)
			}
		}
	}
}

// NewService creates a new moderation service. notifier may be nil, in which
// case admin notifications are recorded but not delivered.
func NewService(stores Stores, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		groups:      stores.Groups,
		members:     stores.Members,
		blacklist:   stores.Blacklist,
		audit:       stores.Audit,
		notifier:    notifier,
		now:         time.Now,
		joinWindow:  DefaultJoinWindow,
		threshold:   models.DefaultThreshold,
		superAdmins: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsAdmin reports whether userID may run admin commands in group
func (s *Service) IsAdmin(group *models.Group, userID string) bool {
	if userID == "" {
		return false
	}
	return s.superAdmins[userID] || (group != nil && group.IsAdmin(userID))
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

// Record stamps entry with the service clock, appends it to the audit log and
// ships it to the configured sinks
func (s *Service) Record(ctx context.Context, entry *models.AuditLog) error {
	entry.Timestamp = s.now().UTC()
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		return fmt.Errorf("record %s: %w", entry.Action, err)
	}
	s.ship(entry)
	return nil
}

// RecordEvent builds and records a row for an observed event
func (s *Service) RecordEvent(ctx context.Context, groupID, userID string, d models.Details, suspicious bool) error {
	entry := s.newEntry(groupID, userID, d)
	entry.IsSuspicious = suspicious
	return s.Record(ctx, entry)
}

// newEntry builds an audit row stamped with the service clock
func (s *Service) newEntry(groupID, userID string, d models.Details) *models.AuditLog {
	entry := models.NewAuditLog(groupID, userID, d)
	entry.Timestamp = s.now().UTC()
	return entry
}

func (s *Service) ship(entry *models.AuditLog) {
	if s.shipper == nil {
		return
	}
	e := audit.FromAuditLog(entry)
	s.pending.Go("audit-ship", func() {
		ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
		defer cancel()
		if err := s.shipper.Ship(ctx, e); err != nil {
			slog.Warn("failed to ship audit entry", "action", e.Action, "log_id", e.LogID, "error", err)
		}
	})
}

// Drain waits for in-flight audit shipments, giving up when ctx is done
func (s *Service) Drain(ctx context.Context) error {
	return s.pending.Wait(ctx)
}

// ---------------------------------------------------------------------------
// Groups and members
// ---------------------------------------------------------------------------

// EnsureGroup returns the stored group, creating it with the default
// threshold and the super admins as its admin list when absent.
func (s *Service) EnsureGroup(ctx context.Context, groupID, name string) (*models.Group, bool, error) {
	g := models.NewGroup(groupID, name, s.threshold)
	g.CreatedAt = s.now().UTC()
	for _, id := range s.bootstrap {
		g.AddAdmin(id)
	}
	stored, created, err := s.groups.CreateGroupIfAbsent(ctx, g)
	if err != nil {
		return nil, false, fmt.Errorf("ensure group %s: %w", groupID, err)
	}
	if created {
		slog.Info("group registered", "group_id", groupID, "threshold", stored.Threshold)
	}
	return stored, created, nil
}

// GetGroup returns the stored group, or ErrGroupNotFound
func (s *Service) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}
	return group, nil
}

// ListGroups lists every monitored group
func (s *Service) ListGroups(ctx context.Context) ([]*models.Group, error) {
	return s.groups.ListGroups(ctx)
}

// ListMembers lists a group's members
func (s *Service) ListMembers(ctx context.Context, groupID string) ([]*models.Member, error) {
	return s.members.ListMembers(ctx, groupID)
}

// ListAuditLogs pages through audit rows newest first
func (s *Service) ListAuditLogs(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, int, error) {
	return s.audit.ListAuditLogs(ctx, filter, limit, offset)
}

// AddMember upserts a member row. displayName may be empty.
func (s *Service) AddMember(ctx context.Context, group *models.Group, userID, displayName string) error {
	m := &models.Member{
		UserID:      userID,
		GroupID:     group.GroupID,
		DisplayName: models.StringPtr(displayName),
		JoinedAt:    s.now().UTC(),
		IsAdmin:     group.IsAdmin(userID),
	}
	return s.members.UpsertMember(ctx, m)
}

// RemoveMembers deletes the given users' member rows
func (s *Service) RemoveMembers(ctx context.Context, groupID string, userIDs []string) (int64, error) {
	return s.members.DeleteMembers(ctx, groupID, userIDs)
}

// SettingsUpdate carries the fields of a settings change; nil fields are left as they are
type SettingsUpdate struct {
	Threshold *int
	GroupName *string
	AdminIDs  *[]string
}

// UpdateSettings applies upd to the group and records settings_updated in the
// same transaction. The returned group reflects the stored state.
func (s *Service) UpdateSettings(ctx context.Context, groupID, actorID string, upd SettingsUpdate) (*models.Group, error) {
	if upd.Threshold != nil && (*upd.Threshold <= 0 || *upd.Threshold > MaxThreshold) {
		return nil, ErrInvalidThreshold
	}
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}

	updated := group.Clone()
	details := models.SettingsUpdatedDetails{Changed: make([]string, 0, 3)}
	if upd.Threshold != nil {
		updated.Threshold = *upd.Threshold
		details.Threshold = upd.Threshold
		details.Changed = append(details.Changed, "threshold")
	}
	if upd.GroupName != nil {
		updated.GroupName = models.StringPtr(*upd.GroupName)
		details.GroupName = upd.GroupName
		details.Changed = append(details.Changed, "group_name")
	}
	if upd.AdminIDs != nil {
		updated.SetAdminIDs(*upd.AdminIDs)
		details.AdminIDs = []string(updated.AdminIDs)
		details.Changed = append(details.Changed, "admin_ids")
	}

	entry := s.newEntry(groupID, actorID, details)
	if err := s.groups.UpdateGroup(ctx, updated, entry); err != nil {
		return nil, fmt.Errorf("update settings for %s: %w", groupID, err)
	}
	s.ship(entry)
	return updated, nil
}

// SetAdmin adds or removes target on the group's admin list and records
// admin_changed. It returns false when the list already had the requested shape.
func (s *Service) SetAdmin(ctx context.Context, groupID, actorID, target string, add bool) (bool, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return false, err
	}
	if group == nil {
		return false, ErrGroupNotFound
	}

	updated := group.Clone()
	op := "remove"
	var changed bool
	if add {
		op = "add"
		changed = updated.AddAdmin(target)
	} else {
		changed = updated.RemoveAdmin(target)
	}
	if !changed {
		return false, nil
	}

	entry := s.newEntry(groupID, actorID, models.AdminChangedDetails{Operation: op, Target: target})
	if err := s.groups.UpdateGroup(ctx, updated, entry); err != nil {
		return false, fmt.Errorf("%s admin %s in %s: %w", op, target, groupID, err)
	}
	s.ship(entry)
	return true, nil
}

// ---------------------------------------------------------------------------
// Blacklist
// ---------------------------------------------------------------------------

func scopeOf(groupID string) string {
	if groupID == "" {
		return models.GlobalScope
	}
	return groupID
}

// BlockUser blacklists userID in groupID, or globally when groupID is empty.
// It returns false when the user is already listed in that scope.
func (s *Service) BlockUser(ctx context.Context, groupID, userID, reason string) (bool, error) {
	e := &models.BlacklistEntry{
		UserID:    userID,
		GroupID:   models.StringPtr(groupID),
		Reason:    models.StringPtr(reason),
		BlockedAt: s.now().UTC(),
	}
	entry := s.newEntry(scopeOf(groupID), userID, models.UserBlockedDetails{Reason: e.Reason})

	created, err := s.blacklist.CreateBlacklistEntry(ctx, e, entry)
	if err != nil {
		return false, fmt.Errorf("block user %s: %w", userID, err)
	}
	if created {
		slog.Info("user blocked", "group_id", scopeOf(groupID), "user_id", userID)
		s.ship(entry)
	}
	return created, nil
}

// UnblockUser removes userID's blacklist entry in groupID (global when empty).
// It returns false when there was no such entry.
func (s *Service) UnblockUser(ctx context.Context, groupID, userID string) (bool, error) {
	entry := s.newEntry(scopeOf(groupID), userID, models.UserUnblockedDetails{})

	removed, err := s.blacklist.DeleteBlacklistEntry(ctx, models.StringPtr(groupID), userID, entry)
	if err != nil {
		return false, fmt.Errorf("unblock user %s: %w", userID, err)
	}
	if removed {
		slog.Info("user unblocked", "group_id", scopeOf(groupID), "user_id", userID)
		s.ship(entry)
	}
	return removed, nil
}

// FindBlock returns the entry blocking userID in groupID, preferring a
// group-specific entry over a global one. It returns nil when the user is not blocked.
func (s *Service) FindBlock(ctx context.Context, groupID, userID string) (*models.BlacklistEntry, error) {
	e, err := s.blacklist.FindBlacklistEntry(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("find block for %s: %w", userID, err)
	}
	if e != nil {
		scope := "group"
		if e.IsGlobal() {
			scope = "global"
		}
		telemetry.BlacklistHitsTotal.WithLabelValues(scope).Inc()
	}
	return e, nil
}

// IsUserBlocked reports whether userID is blacklisted in groupID or globally
func (s *Service) IsUserBlocked(ctx context.Context, groupID, userID string) (bool, error) {
	e, err := s.FindBlock(ctx, groupID, userID)
	return e != nil, err
}

// ListBlacklist lists a group's entries, or the global entries when groupID is empty
func (s *Service) ListBlacklist(ctx context.Context, groupID string) ([]*models.BlacklistEntry, error) {
	return s.blacklist.ListBlacklist(ctx, models.StringPtr(groupID))
}

// ---------------------------------------------------------------------------
// Enforcement
// ---------------------------------------------------------------------------

// NotifyAdmins pushes message to every admin of group. Delivery failures are
// logged and skipped. One admin_notification row is recorded regardless of
// the outcome. It returns how many admins were reached.
func (s *Service) NotifyAdmins(ctx context.Context, group *models.Group, message string) (int, error) {
	text := fmt.Sprintf("%s %s\n\n%s", alertPrefix, group.DisplayName(), message)

	delivered := 0
	for _, adminID := range group.AdminIDs {
		if s.notifier == nil {
			telemetry.AdminNotificationsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		if err := s.notifier.PushText(ctx, adminID, text); err != nil {
			telemetry.AdminNotificationsTotal.WithLabelValues("failed").Inc()
			slog.Warn("failed to notify admin", "group_id", group.GroupID, "user_id", adminID, "error", err)
			continue
		}
		telemetry.AdminNotificationsTotal.WithLabelValues("delivered").Inc()
		delivered++
	}

	entry := s.newEntry(group.GroupID, "", models.AdminNotificationDetails{
		Message:    message,
		AdminCount: len(group.AdminIDs),
		Delivered:  delivered,
	})
	if err := s.Record(ctx, entry); err != nil {
		return delivered, err
	}
	return delivered, nil
}

// KickMember records the intent to remove userID from the group. The
// messaging platform offers no removal call, so nothing is enforced.
func (s *Service) KickMember(ctx context.Context, groupID, userID string) error {
	slog.Warn("member removal requested but not supported by the platform; recording attempt only",
		"group_id", groupID, "user_id", userID)
	return s.Record(ctx, s.newEntry(groupID, userID, models.KickAttemptDetails{Reason: ReasonBlacklistedUser}))
}

// WarnUser records a warning issued by issuer to userID
func (s *Service) WarnUser(ctx context.Context, groupID, userID, issuer, reason string) error {
	return s.Record(ctx, s.newEntry(groupID, userID, models.UserWarnedDetails{Reason: reason, IssuedBy: issuer}))
}

// ---------------------------------------------------------------------------
// Analysis and statistics
// ---------------------------------------------------------------------------

// ActivityStats counts the audit rows inside an analysis window
type ActivityStats struct {
	MemberJoin       int `json:"member_join"`
	MemberLeave      int `json:"member_leave"`
	Message          int `json:"message"`
	SuspiciousEvents int `json:"suspicious_events"`
	TotalEvents      int `json:"total_events"`
}

// ActivityAnalysis is the result of AnalyzeSuspiciousActivity
type ActivityAnalysis struct {
	IsSuspicious bool          `json:"is_suspicious"`
	Stats        ActivityStats `json:"stats"`
	AnalysisTime time.Time     `json:"analysis_time"`
}

// AnalyzeSuspiciousActivity summarises the group's audit rows in the trailing
// window. A window of zero or less uses DefaultAnalysisWindow.
func (s *Service) AnalyzeSuspiciousActivity(ctx context.Context, groupID string, window time.Duration) (*ActivityAnalysis, error) {
	if window <= 0 {
		window = DefaultAnalysisWindow
	}
	now := s.now().UTC()
	rows, err := s.audit.ListAuditLogsSince(ctx, groupID, "", now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("analyze activity for %s: %w", groupID, err)
	}

	stats := ActivityStats{TotalEvents: len(rows)}
	for _, row := range rows {
		switch row.Action {
		case models.ActionMemberJoin:
			stats.MemberJoin++
		case models.ActionMemberLeave:
			stats.MemberLeave++
		case models.ActionMessage:
			stats.Message++
		}
		if row.IsSuspicious {
			stats.SuspiciousEvents++
		}
	}

	return &ActivityAnalysis{
		IsSuspicious: stats.MemberJoin > analysisJoinLimit ||
			stats.SuspiciousEvents > 0 ||
			stats.TotalEvents > analysisTotalLimit,
		Stats:        stats,
		AnalysisTime: now,
	}, nil
}

// GroupStatistics summarises one group
type GroupStatistics struct {
	GroupID           string    `json:"group_id"`
	GroupName         *string   `json:"group_name"`
	MemberCount       int       `json:"member_count"`
	AdminCount        int       `json:"admin_count"`
	BlacklistCount    int       `json:"blacklist_count"`
	Threshold         int       `json:"threshold"`
	RecentActivity24h int       `json:"recent_activity_24h"`
	CreatedAt         time.Time `json:"created_at"`
}

// GetGroupStatistics returns counts for the group, or ErrGroupNotFound
func (s *Service) GetGroupStatistics(ctx context.Context, groupID string) (*GroupStatistics, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, ErrGroupNotFound
	}

	members, err := s.members.CountMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	blacklisted, err := s.blacklist.CountBlacklist(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("count blacklist: %w", err)
	}
	recent, err := s.audit.CountAuditLogsSince(ctx, groupID, s.now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent activity: %w", err)
	}

	return &GroupStatistics{
		GroupID:           group.GroupID,
		GroupName:         group.GroupName,
		MemberCount:       members,
		AdminCount:        len(group.AdminIDs),
		BlacklistCount:    blacklisted,
		Threshold:         group.Threshold,
		RecentActivity24h: recent,
		CreatedAt:         group.CreatedAt,
	}, nil
}

// GlobalStatistics aggregates counts across every group
func (s *Service) GlobalStatistics(ctx context.Context) (*models.GlobalStatistics, error) {
	return s.audit.GlobalStatistics(ctx, s.now().Add(-24*time.Hour))
}
