// Package models - member.go defines the Member and BlacklistEntry models.
package models

import "time"

// Member is a user currently in a monitored group
type Member struct {
	ID          int64     `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	GroupID     string    `db:"group_id" json:"group_id"`
	DisplayName *string   `db:"display_name" json:"display_name"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
	IsAdmin     bool      `db:"is_admin" json:"is_admin"`
	IsBlocked   bool      `db:"is_blocked" json:"is_blocked"`
}

// BlacklistEntry denies a user membership. A nil GroupID makes the entry
// global: it applies to every group.
type BlacklistEntry struct {
	ID        int64     `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	GroupID   *string   `db:"group_id" json:"group_id"`
	Reason    *string   `db:"reason" json:"reason"`
	BlockedAt time.Time `db:"blocked_at" json:"blocked_at"`
}

// IsGlobal reports whether the entry applies to every group
func (b *BlacklistEntry) IsGlobal() bool {
	return b.GroupID == nil
}

// ReasonOr returns the reason, or fallback when none was given
func (b *BlacklistEntry) ReasonOr(fallback string) string {
	if b.Reason == nil || *b.Reason == "" {
		return fallback
	}
	return *b.Reason
}

// StringPtr returns nil for an empty string, otherwise a pointer to s
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
