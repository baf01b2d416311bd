// Package memstore keeps groups, members, blacklist entries and audit rows in
// process memory. It backs `database.driver: memory` deployments and tests,
// and follows the same semantics as the Postgres repositories.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/groupguard/groupguard/internal/db/models"
)

type memberKey struct {
	groupID string
	userID  string
}

type blacklistKey struct {
	groupID string // "" for global entries
	userID  string
}

// Store is a mutex-guarded in-memory store. The zero value is not usable; call New.
type Store struct {
	mu sync.RWMutex

	groups    map[string]*models.Group
	members   map[memberKey]*models.Member
	blacklist map[blacklistKey]*models.BlacklistEntry
	logs      []*models.AuditLog

	nextMemberID    int64
	nextBlacklistID int64
}

// New creates an empty Store
func New() *Store {
	return &Store{
		groups:    make(map[string]*models.Group),
		members:   make(map[memberKey]*models.Member),
		blacklist: make(map[blacklistKey]*models.BlacklistEntry),
	}
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// GetGroup returns a copy of the group, or nil when unknown
func (s *Store) GetGroup(_ context.Context, groupID string) (*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	return g.Clone(), nil
}

// ListGroups lists all groups, oldest first
func (s *Store) ListGroups(_ context.Context) ([]*models.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateGroupIfAbsent stores group unless the id is taken
func (s *Store) CreateGroupIfAbsent(_ context.Context, group *models.Group) (*models.Group, bool, error) {
	if group.Threshold <= 0 {
		return nil, false, fmt.Errorf("create group %s: threshold must be positive", group.GroupID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.groups[group.GroupID]; ok {
		return existing.Clone(), false, nil
	}
	stored := group.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.groups[stored.GroupID] = stored
	return stored.Clone(), true, nil
}

// UpdateGroup replaces the stored group, syncs member admin flags and appends entry
func (s *Store) UpdateGroup(_ context.Context, group *models.Group, entry *models.AuditLog) error {
	if group.Threshold <= 0 {
		return fmt.Errorf("update group %s: threshold must be positive", group.GroupID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[group.GroupID]
	if !ok {
		return fmt.Errorf("update group %s: %w", group.GroupID, sql.ErrNoRows)
	}
	updated := group.Clone()
	updated.CreatedAt = existing.CreatedAt
	s.groups[group.GroupID] = updated

	for k, m := range s.members {
		if k.groupID == group.GroupID {
			m.IsAdmin = updated.IsAdmin(k.userID)
		}
	}
	if entry != nil {
		s.appendLocked(entry)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// UpsertMember inserts or refreshes the (user, group) row
func (s *Store) UpsertMember(_ context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{member.GroupID, member.UserID}
	if existing, ok := s.members[key]; ok {
		if member.DisplayName != nil {
			existing.DisplayName = member.DisplayName
		}
		existing.JoinedAt = member.JoinedAt
		existing.IsAdmin = member.IsAdmin
		member.ID = existing.ID
		return nil
	}
	s.nextMemberID++
	stored := *member
	stored.ID = s.nextMemberID
	if stored.JoinedAt.IsZero() {
		stored.JoinedAt = time.Now().UTC()
	}
	s.members[key] = &stored
	member.ID = stored.ID
	return nil
}

// DeleteMembers removes the users' rows from the group
func (s *Store) DeleteMembers(_ context.Context, groupID string, userIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range userIDs {
		key := memberKey{groupID, id}
		if _, ok := s.members[key]; ok {
			delete(s.members, key)
			n++
		}
	}
	return n, nil
}

// ListMembers lists a group's members in join order
func (s *Store) ListMembers(_ context.Context, groupID string) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Member, 0)
	for k, m := range s.members {
		if k.groupID == groupID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

// CountMembers counts a group's members
func (s *Store) CountMembers(_ context.Context, groupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.members {
		if k.groupID == groupID {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Blacklist
// ---------------------------------------------------------------------------

func scopeKey(groupID *string) string {
	if groupID == nil {
		return ""
	}
	return *groupID
}

// CreateBlacklistEntry stores e and appends entry; false when already listed in that scope
func (s *Store) CreateBlacklistEntry(_ context.Context, e *models.BlacklistEntry, entry *models.AuditLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blacklistKey{scopeKey(e.GroupID), e.UserID}
	if _, ok := s.blacklist[key]; ok {
		return false, nil
	}
	if e.BlockedAt.IsZero() {
		e.BlockedAt = time.Now().UTC()
	}
	s.nextBlacklistID++
	e.ID = s.nextBlacklistID
	stored := *e
	s.blacklist[key] = &stored
	s.setBlockedLocked(e.GroupID, e.UserID, true)
	if entry != nil {
		s.appendLocked(entry)
	}
	return true, nil
}

// DeleteBlacklistEntry removes the user's entry in the scope and appends entry
func (s *Store) DeleteBlacklistEntry(_ context.Context, groupID *string, userID string, entry *models.AuditLog) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blacklistKey{scopeKey(groupID), userID}
	if _, ok := s.blacklist[key]; !ok {
		return false, nil
	}
	delete(s.blacklist, key)
	s.setBlockedLocked(groupID, userID, false)
	if entry != nil {
		s.appendLocked(entry)
	}
	return true, nil
}

func (s *Store) setBlockedLocked(groupID *string, userID string, blocked bool) {
	for k, m := range s.members {
		if k.userID == userID && (groupID == nil || k.groupID == *groupID) {
			m.IsBlocked = blocked
		}
	}
}

// FindBlacklistEntry returns the group-specific entry for the user, else the global one
func (s *Store) FindBlacklistEntry(_ context.Context, groupID, userID string) (*models.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if groupID != "" {
		if e, ok := s.blacklist[blacklistKey{groupID, userID}]; ok {
			c := *e
			return &c, nil
		}
	}
	if e, ok := s.blacklist[blacklistKey{"", userID}]; ok {
		c := *e
		return &c, nil
	}
	return nil, nil
}

// ListBlacklist lists the entries in a scope, newest first
func (s *Store) ListBlacklist(_ context.Context, groupID *string) ([]*models.BlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	scope := scopeKey(groupID)
	out := make([]*models.BlacklistEntry, 0)
	for k, e := range s.blacklist {
		if k.groupID == scope {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockedAt.Equal(out[j].BlockedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].BlockedAt.After(out[j].BlockedAt)
	})
	return out, nil
}

// CountBlacklist counts the group-scoped entries
func (s *Store) CountBlacklist(_ context.Context, groupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.blacklist {
		if groupID != "" && k.groupID == groupID {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

func (s *Store) appendLocked(entry *models.AuditLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.LogID = int64(len(s.logs)) + 1
	c := *entry
	c.Details = append(models.RawDetails(nil), entry.Details...)
	s.logs = append(s.logs, &c)
}

// CreateAuditLog appends entry and assigns its log id
func (s *Store) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(entry)
	return nil
}

// ListAuditLogsSince returns a group's rows at or after since, oldest first
func (s *Store) ListAuditLogsSince(_ context.Context, groupID string, action models.AuditAction, since time.Time) ([]*models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditLog, 0)
	for _, l := range s.logs {
		if l.GroupID != groupID || l.Timestamp.Before(since) {
			continue
		}
		if action != "" && l.Action != action {
			continue
		}
		c := *l
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// CountAuditLogsSince counts a group's rows at or after since
func (s *Store) CountAuditLogsSince(ctx context.Context, groupID string, since time.Time) (int, error) {
	logs, err := s.ListAuditLogsSince(ctx, groupID, "", since)
	return len(logs), err
}

// ListAuditLogs filters and pages the log, newest first
func (s *Store) ListAuditLogs(_ context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*models.AuditLog, 0)
	for _, l := range s.logs {
		if filter.GroupID != "" && l.GroupID != filter.GroupID {
			continue
		}
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		if filter.SuspiciousOnly && !l.IsSuspicious {
			continue
		}
		c := *l
		matched = append(matched, &c)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].LogID > matched[j].LogID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	if offset < 0 || offset >= total {
		return []*models.AuditLog{}, total, nil
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// GlobalStatistics aggregates counts across every group
func (s *Store) GlobalStatistics(_ context.Context, since time.Time) (*models.GlobalStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.GlobalStatistics{
		TotalGroups:    len(s.groups),
		TotalMembers:   len(s.members),
		TotalBlacklist: len(s.blacklist),
	}
	for _, l := range s.logs {
		if l.Timestamp.Before(since) {
			continue
		}
		stats.RecentActivity24h++
		if l.IsSuspicious {
			stats.SuspiciousActivity24h++
		}
	}
	return stats, nil
}
