package models

import (
	"encoding/json"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Group admin list
// ---------------------------------------------------------------------------

func TestNewGroup_Defaults(t *testing.T) {
	g := NewGroup("C1", "", 0)
	if g.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %d, want %d", g.Threshold, DefaultThreshold)
	}
	if g.GroupName != nil {
		t.Errorf("GroupName = %v, want nil", *g.GroupName)
	}
	if g.DisplayName() != "C1" {
		t.Errorf("DisplayName() = %q, want C1", g.DisplayName())
	}
	if len(g.AdminIDs) != 0 {
		t.Errorf("AdminIDs = %v, want empty", g.AdminIDs)
	}
}

func TestGroup_AddRemoveAdmin(t *testing.T) {
	g := NewGroup("C1", "Hikers", 5)

	if !g.AddAdmin("U1") || !g.AddAdmin("U2") || !g.AddAdmin("U3") {
		t.Fatal("AddAdmin() returned false for new admins")
	}
	if g.AddAdmin("U2") {
		t.Error("AddAdmin() returned true for an existing admin")
	}
	if !g.IsAdmin("U2") {
		t.Error("IsAdmin(U2) = false after AddAdmin")
	}

	if !g.RemoveAdmin("U2") {
		t.Fatal("RemoveAdmin(U2) = false")
	}
	if g.RemoveAdmin("U2") {
		t.Error("RemoveAdmin(U2) = true on second call")
	}
	want := []string{"U1", "U3"}
	if len(g.AdminIDs) != len(want) {
		t.Fatalf("AdminIDs = %v, want %v", g.AdminIDs, want)
	}
	for i, id := range want {
		if g.AdminIDs[i] != id {
			t.Errorf("AdminIDs[%d] = %q, want %q", i, g.AdminIDs[i], id)
		}
	}
}

func TestGroup_SetAdminIDs_Dedupes(t *testing.T) {
	g := NewGroup("C1", "", 5)
	g.SetAdminIDs([]string{"U1", "", "U2", "U1"})
	if len(g.AdminIDs) != 2 || g.AdminIDs[0] != "U1" || g.AdminIDs[1] != "U2" {
		t.Errorf("AdminIDs = %v, want [U1 U2]", g.AdminIDs)
	}
}

func TestGroup_CloneIsIndependent(t *testing.T) {
	g := NewGroup("C1", "name", 5)
	g.AddAdmin("U1")
	c := g.Clone()
	c.AddAdmin("U2")
	*c.GroupName = "changed"
	if len(g.AdminIDs) != 1 {
		t.Errorf("original AdminIDs changed: %v", g.AdminIDs)
	}
	if *g.GroupName != "name" {
		t.Errorf("original GroupName changed: %q", *g.GroupName)
	}
}

// ---------------------------------------------------------------------------
// StringList
// ---------------------------------------------------------------------------

func TestStringList_ScanValue(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		want int
	}{
		{"bytes", []byte(`["U1","U2"]`), 2},
		{"string", `["U1"]`, 1},
		{"nil", nil, 0},
		{"empty", []byte(""), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l StringList
			if err := l.Scan(tt.src); err != nil {
				t.Fatalf("Scan() error: %v", err)
			}
			if len(l) != tt.want {
				t.Errorf("len = %d, want %d", len(l), tt.want)
			}
		})
	}

	var l StringList
	if err := l.Scan(42); err == nil {
		t.Error("Scan(int) expected error")
	}

	v, err := StringList(nil).Value()
	if err != nil || v != "[]" {
		t.Errorf("nil Value() = %v, %v; want [] nil", v, err)
	}
}

func TestGroup_JSONNilAdminsIsEmptyArray(t *testing.T) {
	g := &Group{GroupID: "C1", Threshold: 5}
	b, err := json.Marshal(g)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["admin_ids"].([]interface{}); !ok {
		t.Errorf("admin_ids = %v, want JSON array", out["admin_ids"])
	}
	if out["group_name"] != nil {
		t.Errorf("group_name = %v, want null", out["group_name"])
	}
}

// ---------------------------------------------------------------------------
// BlacklistEntry
// ---------------------------------------------------------------------------

func TestBlacklistEntry_ScopeAndReason(t *testing.T) {
	global := &BlacklistEntry{UserID: "U1"}
	if !global.IsGlobal() {
		t.Error("entry without group should be global")
	}
	if global.ReasonOr("none") != "none" {
		t.Errorf("ReasonOr() = %q, want none", global.ReasonOr("none"))
	}

	scoped := &BlacklistEntry{UserID: "U1", GroupID: StringPtr("C1"), Reason: StringPtr("spam")}
	if scoped.IsGlobal() {
		t.Error("entry with group should not be global")
	}
	if scoped.ReasonOr("none") != "spam" {
		t.Errorf("ReasonOr() = %q, want spam", scoped.ReasonOr("none"))
	}
}

// ---------------------------------------------------------------------------
// AuditLog details
// ---------------------------------------------------------------------------

func TestNewAuditLog_TagsActionFromDetails(t *testing.T) {
	a := NewAuditLog("C1", "", MemberJoinDetails{MemberCount: 2, MemberIDs: []string{"U1", "U2"}})
	if a.Action != ActionMemberJoin {
		t.Errorf("Action = %q, want member_join", a.Action)
	}
	if a.UserID != nil {
		t.Errorf("UserID = %v, want nil", *a.UserID)
	}
	if a.JoinedCount() != 2 {
		t.Errorf("JoinedCount() = %d, want 2", a.JoinedCount())
	}
}

func TestAuditLog_DecodeDetails(t *testing.T) {
	a := NewAuditLog("C1", "U9", AdminNotificationDetails{Message: "hi", AdminCount: 3, Delivered: 2})
	d, err := a.DecodeDetails()
	if err != nil {
		t.Fatalf("DecodeDetails() error: %v", err)
	}
	n, ok := d.(*AdminNotificationDetails)
	if !ok {
		t.Fatalf("DecodeDetails() type = %T, want *AdminNotificationDetails", d)
	}
	if n.Message != "hi" || n.AdminCount != 3 || n.Delivered != 2 {
		t.Errorf("decoded = %+v", n)
	}
}

func TestAuditLog_DecodeDetails_UnknownAction(t *testing.T) {
	a := &AuditLog{Action: "bogus", Details: RawDetails(`{}`)}
	if _, err := a.DecodeDetails(); err == nil {
		t.Error("DecodeDetails() expected error for unknown action")
	}
}

func TestAuditLog_JoinedCount_OtherActions(t *testing.T) {
	a := NewAuditLog("C1", "", MemberLeaveDetails{MemberCount: 3, MemberIDs: []string{"a", "b", "c"}})
	if a.JoinedCount() != 0 {
		t.Errorf("JoinedCount() on member_leave = %d, want 0", a.JoinedCount())
	}
	broken := &AuditLog{Action: ActionMemberJoin, Details: RawDetails("not json")}
	if broken.JoinedCount() != 0 {
		t.Errorf("JoinedCount() on broken row = %d, want 0", broken.JoinedCount())
	}
}

func TestAuditLog_MarshalEmbedsDetails(t *testing.T) {
	a := NewAuditLog("C1", "U1", KickAttemptDetails{Reason: "blacklisted_user"})
	a.Timestamp = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Details map[string]string `json:"details"`
		Action  string            `json:"action"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, b)
	}
	if out.Details["reason"] != "blacklisted_user" {
		t.Errorf("details.reason = %q, want blacklisted_user", out.Details["reason"])
	}
	if out.Action != "kick_attempt" {
		t.Errorf("action = %q, want kick_attempt", out.Action)
	}
}

func TestAuditAction_Valid(t *testing.T) {
	for _, a := range []AuditAction{ActionMessage, ActionMemberJoin, ActionSettingsUpdated, ActionKickAttempt} {
		if !a.Valid() {
			t.Errorf("%q.Valid() = false", a)
		}
	}
	if AuditAction("member_left").Valid() {
		t.Error(`"member_left".Valid() = true, want false`)
	}
}
