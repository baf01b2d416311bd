// Package models - audit_log.go defines the append-only AuditLog model and the
// typed detail payload recorded for each action.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// AuditAction tags what an audit row records
type AuditAction string

const (
	ActionMessage           AuditAction = "message"
	ActionBotJoin           AuditAction = "bot_join"
	ActionBotLeave          AuditAction = "bot_leave"
	ActionMemberJoin        AuditAction = "member_join"
	ActionMemberLeave       AuditAction = "member_leave"
	ActionPostback          AuditAction = "postback"
	ActionSettingsUpdated   AuditAction = "settings_updated"
	ActionUserBlocked       AuditAction = "user_blocked"
	ActionUserUnblocked     AuditAction = "user_unblocked"
	ActionAdminNotification AuditAction = "admin_notification"
	ActionKickAttempt       AuditAction = "kick_attempt"
	ActionUserWarned        AuditAction = "user_warned"
	ActionAdminChanged      AuditAction = "admin_changed"
)

// GlobalScope is the group id recorded on audit rows for global blacklist changes
const GlobalScope = "*"

var knownActions = map[AuditAction]bool{
	ActionMessage: true, ActionBotJoin: true, ActionBotLeave: true,
	ActionMemberJoin: true, ActionMemberLeave: true, ActionPostback: true,
	ActionSettingsUpdated: true, ActionUserBlocked: true, ActionUserUnblocked: true,
	ActionAdminNotification: true, ActionKickAttempt: true, ActionUserWarned: true,
	ActionAdminChanged: true,
}

// Valid reports whether a is part of the action vocabulary
func (a AuditAction) Valid() bool {
	return knownActions[a]
}

// Details is the typed payload of an audit row. Each action has exactly one
// payload shape.
type Details interface {
	Action() AuditAction
}

// MessageDetails records a group text message (truncated)
type MessageDetails struct {
	Text string `json:"text"`
}

// BotJoinDetails records the bot being added to a group
type BotJoinDetails struct {
	Timestamp time.Time `json:"timestamp"`
}

// BotLeaveDetails records the bot being removed from a group
type BotLeaveDetails struct {
	Timestamp time.Time `json:"timestamp"`
}

// MemberJoinDetails records one batch of joining members
type MemberJoinDetails struct {
	MemberCount int      `json:"member_count"`
	MemberIDs   []string `json:"member_ids"`
}

// MemberLeaveDetails records one batch of departing members
type MemberLeaveDetails struct {
	MemberCount int      `json:"member_count"`
	MemberIDs   []string `json:"member_ids"`
}

// PostbackDetails records postback data from a template action
type PostbackDetails struct {
	Data string `json:"data"`
}

// SettingsUpdatedDetails records the accepted fields of a settings update
type SettingsUpdatedDetails struct {
	Threshold *int     `json:"threshold,omitempty"`
	GroupName *string  `json:"group_name,omitempty"`
	AdminIDs  []string `json:"admin_ids,omitempty"`
	Changed   []string `json:"changed"`
}

// UserBlockedDetails records a blacklist insertion
type UserBlockedDetails struct {
	Reason *string `json:"reason"`
}

// UserUnblockedDetails records a blacklist removal
type UserUnblockedDetails struct{}

// AdminNotificationDetails summarises one admin notification fan-out
type AdminNotificationDetails struct {
	Message    string `json:"message"`
	AdminCount int    `json:"admin_count"`
	Delivered  int    `json:"delivered"`
}

// KickAttemptDetails records a requested removal; the platform cannot enforce it
type KickAttemptDetails struct {
	Reason string `json:"reason"`
}

// UserWarnedDetails records an admin warning issued to a member
type UserWarnedDetails struct {
	Reason   string `json:"reason"`
	IssuedBy string `json:"issued_by"`
}

// AdminChangedDetails records an admin list change made from chat
type AdminChangedDetails struct {
	Operation string `json:"operation"` // "add" or "remove"
	Target    string `json:"target"`
}

func (MessageDetails) Action() AuditAction           { return ActionMessage }
func (BotJoinDetails) Action() AuditAction           { return ActionBotJoin }
func (BotLeaveDetails) Action() AuditAction          { return ActionBotLeave }
func (MemberJoinDetails) Action() AuditAction        { return ActionMemberJoin }
func (MemberLeaveDetails) Action() AuditAction       { return ActionMemberLeave }
func (PostbackDetails) Action() AuditAction          { return ActionPostback }
func (SettingsUpdatedDetails) Action() AuditAction   { return ActionSettingsUpdated }
func (UserBlockedDetails) Action() AuditAction       { return ActionUserBlocked }
func (UserUnblockedDetails) Action() AuditAction     { return ActionUserUnblocked }
func (AdminNotificationDetails) Action() AuditAction { return ActionAdminNotification }
func (KickAttemptDetails) Action() AuditAction       { return ActionKickAttempt }
func (UserWarnedDetails) Action() AuditAction        { return ActionUserWarned }
func (AdminChangedDetails) Action() AuditAction      { return ActionAdminChanged }

// RawDetails is the JSON-encoded details column
type RawDetails []byte

// Scan implements sql.Scanner
func (r *RawDetails) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case []byte:
		*r = append(RawDetails{}, v...)
	case string:
		*r = RawDetails(v)
	default:
		return fmt.Errorf("RawDetails: unsupported scan type %T", src)
	}
	return nil
}

// Value implements driver.Valuer
func (r RawDetails) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "{}", nil
	}
	return string(r), nil
}

// MarshalJSON embeds the stored object as-is
func (r RawDetails) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("{}"), nil
	}
	return []byte(r), nil
}

// UnmarshalJSON keeps a copy of the raw object
func (r *RawDetails) UnmarshalJSON(b []byte) error {
	*r = append(RawDetails{}, b...)
	return nil
}

// AuditLog is one append-only record of a handled event
type AuditLog struct {
	LogID        int64       `db:"log_id" json:"log_id"`
	GroupID      string      `db:"group_id" json:"group_id"`
	UserID       *string     `db:"user_id" json:"user_id"`
	Action       AuditAction `db:"action" json:"action"`
	Details      RawDetails  `db:"details" json:"details"`
	Timestamp    time.Time   `db:"timestamp" json:"timestamp"`
	IsSuspicious bool        `db:"is_suspicious" json:"is_suspicious"`
}

// NewAuditLog builds an unsaved audit row for d. An empty userID is stored as NULL.
func NewAuditLog(groupID, userID string, d Details) *AuditLog {
	raw, err := json.Marshal(d)
	if err != nil {
		raw = []byte("{}")
	}
	return &AuditLog{
		GroupID:   groupID,
		UserID:    StringPtr(userID),
		Action:    d.Action(),
		Details:   raw,
		Timestamp: time.Now().UTC(),
	}
}

// DecodeDetails parses the stored payload into the variant for the row's action
func (a *AuditLog) DecodeDetails() (Details, error) {
	var d Details
	switch a.Action {
	case ActionMessage:
		d = &MessageDetails{}
	case ActionBotJoin:
		d = &BotJoinDetails{}
	case ActionBotLeave:
		d = &BotLeaveDetails{}
	case ActionMemberJoin:
		d = &MemberJoinDetails{}
	case ActionMemberLeave:
		d = &MemberLeaveDetails{}
	case ActionPostback:
		d = &PostbackDetails{}
	case ActionSettingsUpdated:
		d = &SettingsUpdatedDetails{}
	case ActionUserBlocked:
		d = &UserBlockedDetails{}
	case ActionUserUnblocked:
		d = &UserUnblockedDetails{}
	case ActionAdminNotification:
		d = &AdminNotificationDetails{}
	case ActionKickAttempt:
		d = &KickAttemptDetails{}
	case ActionUserWarned:
		d = &UserWarnedDetails{}
	case ActionAdminChanged:
		d = &AdminChangedDetails{}
	default:
		return nil, fmt.Errorf("unknown audit action %q", a.Action)
	}
	if len(a.Details) > 0 {
		if err := json.Unmarshal(a.Details, d); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", a.Action, err)
		}
	}
	return d, nil
}

// JoinedCount returns the number of member ids recorded on a member_join row.
// Rows of other actions, or with unreadable details, count as zero.
func (a *AuditLog) JoinedCount() int {
	if a.Action != ActionMemberJoin || len(a.Details) == 0 {
		return 0
	}
	var d MemberJoinDetails
	if err := json.Unmarshal(a.Details, &d); err != nil {
		return 0
	}
	return len(d.MemberIDs)
}

// AuditFilter narrows an audit log listing
type AuditFilter struct {
	GroupID        string
	Action         AuditAction
	SuspiciousOnly bool
}

// GlobalStatistics aggregates counts across every group
type GlobalStatistics struct {
	TotalGroups           int `db:"total_groups" json:"total_groups"`
	TotalMembers          int `db:"total_members" json:"total_members"`
	TotalBlacklist        int `db:"total_blacklist" json:"total_blacklist"`
	RecentActivity24h     int `db:"recent_activity_24h" json:"recent_activity_24h"`
	SuspiciousActivity24h int `db:"suspicious_activity_24h" json:"suspicious_activity_24h"`
}
