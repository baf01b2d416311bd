// Package models - group.go defines the Group model: a LINE group the bot
// moderates, with its admin list and mass-join threshold.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// DefaultThreshold is the mass-join threshold assigned to new groups
const DefaultThreshold = 5

// StringList is an ordered list of ids stored as a JSON array column
type StringList []string

// Scan implements sql.Scanner for JSON array columns
func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("StringList: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("StringList: %w", err)
	}
	*l = ids
	return nil
}

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// MarshalJSON renders a nil list as [] rather than null
func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Group represents a LINE group monitored by the bot
type Group struct {
	GroupID   string     `db:"group_id" json:"group_id"`
	GroupName *string    `db:"group_name" json:"group_name"`
	AdminIDs  StringList `db:"admin_ids" json:"admin_ids"`
	Threshold int        `db:"threshold" json:"threshold"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// NewGroup returns a group with no admins. A non-positive threshold falls
// back to DefaultThreshold; an empty name is stored as NULL.
func NewGroup(groupID, name string, threshold int) *Group {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	g := &Group{
		GroupID:   groupID,
		AdminIDs:  StringList{},
		Threshold: threshold,
		CreatedAt: time.Now().UTC(),
	}
	if name != "" {
		g.GroupName = &name
	}
	return g
}

// DisplayName returns the group name, or the id when no name is known
func (g *Group) DisplayName() string {
	if g.GroupName != nil && *g.GroupName != "" {
		return *g.GroupName
	}
	return g.GroupID
}

// IsAdmin reports whether userID is on the group's admin list
func (g *Group) IsAdmin(userID string) bool {
	for _, id := range g.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddAdmin appends userID to the admin list. It returns false if the user
// was already an admin.
func (g *Group) AddAdmin(userID string) bool {
	if userID == "" || g.IsAdmin(userID) {
		return false
	}
	g.AdminIDs = append(g.AdminIDs, userID)
	return true
}

// RemoveAdmin drops userID from the admin list, keeping the order of the
// remaining ids. It returns false if the user was not an admin.
func (g *Group) RemoveAdmin(userID string) bool {
	for i, id := range g.AdminIDs {
		if id == userID {
			g.AdminIDs = append(g.AdminIDs[:i:i], g.AdminIDs[i+1:]...)
			return true
		}
	}
	return false
}

// SetAdminIDs replaces the admin list, dropping empty and duplicate ids
func (g *Group) SetAdminIDs(ids []string) {
	seen := make(map[string]bool, len(ids))
	out := make(StringList, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	g.AdminIDs = out
}

// Clone returns a deep copy of the group
func (g *Group) Clone() *Group {
	c := *g
	if g.GroupName != nil {
		name := *g.GroupName
		c.GroupName = &name
	}
	c.AdminIDs = append(StringList{}, g.AdminIDs...)
	return &c
}
