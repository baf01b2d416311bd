package moderation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupguard/groupguard/internal/audit"
	"github.com/groupguard/groupguard/internal/db/models"
	"github.com/groupguard/groupguard/internal/memstore"
	"github.com/groupguard/groupguard/internal/moderation"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type pushed struct {
	to   string
	text string
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []pushed
	failTo map[string]bool
}

func (f *fakeNotifier) PushText(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTo[to] {
		return errors.New("push rejected")
	}
	f.sent = append(f.sent, pushed{to, text})
	return nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func stores(s *memstore.Store) moderation.Stores {
	return moderation.Stores{Groups: s, Members: s, Blacklist: s, Audit: s}
}

func newService(t *testing.T, n moderation.Notifier, opts ...moderation.Option) (*moderation.Service, *memstore.Store, *testClock) {
	t.Helper()
	store := memstore.New()
	clock := &testClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]moderation.Option{moderation.WithClock(clock.now)}, opts...)
	return moderation.NewService(stores(store), n, opts...), store, clock
}

func auditRows(t *testing.T, store *memstore.Store, groupID string, action models.AuditAction) []*models.AuditLog {
	t.Helper()
	rows, _, err := store.ListAuditLogs(context.Background(), models.AuditFilter{GroupID: groupID, Action: action}, 200, 0)
	require.NoError(t, err)
	return rows
}

// recordJoin stores a member_join row the way the dispatcher does
func recordJoin(t *testing.T, svc *moderation.Service, groupID string, ids ...string) {
	t.Helper()
	require.NoError(t, svc.Record(context.Background(),
		models.NewAuditLog(groupID, "", models.MemberJoinDetails{MemberCount: len(ids), MemberIDs: ids})))
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = string(rune('a'+i)) + "-user"
	}
	return out
}

// ---------------------------------------------------------------------------
// Mass-join detection
// ---------------------------------------------------------------------------

func TestMassJoinSuspicious(t *testing.T) {
	tests := []struct {
		recent, incoming, threshold int
		want                        bool
	}{
		{0, 5, 5, false},
		{0, 6, 5, true},
		{3, 3, 5, true},
		{2, 3, 5, false},
		{0, 0, 1, false},
	}
	for _, tt := range tests {
		got := moderation.MassJoinSuspicious(tt.recent, tt.incoming, tt.threshold)
		assert.Equal(t, tt.want, got, "recent=%d incoming=%d threshold=%d", tt.recent, tt.incoming, tt.threshold)
	}
}

func TestCheckMassJoin_UnknownGroupFailsOpen(t *testing.T) {
	svc, _, _ := newService(t, nil)
	assert.False(t, svc.CheckMassJoin(context.Background(), "nope", 100))
}

func TestCheckMassJoin_SingleLargeBatch(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	_, _, err := svc.EnsureGroup(ctx, "C1", "")
	require.NoError(t, err)

	assert.True(t, svc.CheckMassJoin(ctx, "C1", 6))
	assert.False(t, svc.CheckMassJoin(ctx, "C1", 5))
}

func TestCheckMassJoin_WindowBoundary(t *testing.T) {
	svc, _, clock := newService(t, nil)
	ctx := context.Background()
	_, _, err := svc.EnsureGroup(ctx, "C1", "")
	require.NoError(t, err)

	recordJoin(t, svc, "C1", ids(3)...)
	clock.advance(30 * time.Second)
	assert.True(t, svc.CheckMassJoin(ctx, "C1", 3), "3 + 3 within the window exceeds 5")

	clock.advance(61 * time.Second)
	assert.False(t, svc.CheckMassJoin(ctx, "C1", 3), "the first batch has left the window")
}

func TestCheckMassJoin_CustomThresholdAndWindow(t *testing.T) {
	svc, _, clock := newService(t, nil, moderation.WithJoinWindow(10*time.Minute), moderation.WithDefaultThreshold(20))
	ctx := context.Background()
	_, _, err := svc.EnsureGroup(ctx, "C1", "")
	require.NoError(t, err)

	recordJoin(t, svc, "C1", ids(15)...)
	clock.advance(5 * time.Minute)
	assert.False(t, svc.CheckMassJoin(ctx, "C1", 5))
	assert.True(t, svc.CheckMassJoin(ctx, "C1", 6))
}

// ---------------------------------------------------------------------------
// Blacklist
// ---------------------------------------------------------------------------

func TestBlockUser_Idempotent(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	ok, err := svc.BlockUser(ctx, "C1", "U1", "spam")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.BlockUser(ctx, "C1", "U1", "again")
	require.NoError(t, err)
	assert.False(t, ok)

	list, _ := svc.ListBlacklist(ctx, "C1")
	assert.Len(t, list, 1)
	assert.Len(t, auditRows(t, store, "C1", models.ActionUserBlocked), 1)
}

func TestBlockUnblock_RoundTrip(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.BlockUser(ctx, "C1", "U1", "")
	require.NoError(t, err)
	blocked, _ := svc.IsUserBlocked(ctx, "C1", "U1")
	assert.True(t, blocked)

	ok, err := svc.UnblockUser(ctx, "C1", "U1")
	require.NoError(t, err)
	assert.True(t, ok)
	blocked, _ = svc.IsUserBlocked(ctx, "C1", "U1")
	assert.False(t, blocked)

	ok, _ = svc.UnblockUser(ctx, "C1", "U1")
	assert.False(t, ok, "second unblock finds nothing")
	assert.Len(t, auditRows(t, store, "C1", models.ActionUserUnblocked), 1)

	_, _ = svc.BlockUser(ctx, "C1", "U1", "")
	blocked, _ = svc.IsUserBlocked(ctx, "C1", "U1")
	assert.True(t, blocked)
}

func TestBlockUser_GlobalAppliesEverywhere(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	ok, err := svc.BlockUser(ctx, "", "U1", "raider")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, g := range []string{"C1", "C2", "C3"} {
		e, err := svc.FindBlock(ctx, g, "U1")
		require.NoError(t, err)
		require.NotNil(t, e, "group %s", g)
		assert.True(t, e.IsGlobal())
		assert.Equal(t, "raider", e.ReasonOr(""))
	}
	assert.Len(t, auditRows(t, store, models.GlobalScope, models.ActionUserBlocked), 1)

	ok, _ = svc.UnblockUser(ctx, "C1", "U1")
	assert.False(t, ok, "group unblock does not touch the global entry")
}

// ---------------------------------------------------------------------------
// Admin notification and kicks
// ---------------------------------------------------------------------------

func TestNotifyAdmins_SkipsFailuresAndRecordsOnce(t *testing.T) {
	n := &fakeNotifier{failTo: map[string]bool{"A2": true}}
	svc, store, _ := newService(t, n)
	ctx := context.Background()

	group, _, _ := svc.EnsureGroup(ctx, "C1", "Hikers")
	group.SetAdminIDs([]string{"A1", "A2", "A3"})

	delivered, err := svc.NotifyAdmins(ctx, group, "something happened")
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	require.Len(t, n.sent, 2)
	assert.Equal(t, "A1", n.sent[0].to)
	assert.Equal(t, "[Anti-takeover alert] Hikers\n\nsomething happened", n.sent[0].text)

	rows := auditRows(t, store, "C1", models.ActionAdminNotification)
	require.Len(t, rows, 1)
	d, err := rows[0].DecodeDetails()
	require.NoError(t, err)
	nd := d.(*models.AdminNotificationDetails)
	assert.Equal(t, 3, nd.AdminCount)
	assert.Equal(t, 2, nd.Delivered)
	assert.Equal(t, "something happened", nd.Message)
}

func TestNotifyAdmins_WithoutClientStillRecords(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()
	group, _, _ := svc.EnsureGroup(ctx, "C1", "")
	group.SetAdminIDs([]string{"A1"})

	delivered, err := svc.NotifyAdmins(ctx, group, "hello")
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Len(t, auditRows(t, store, "C1", models.ActionAdminNotification), 1)
}

func TestKickMember_RecordsAttemptOnly(t *testing.T) {
	svc, store, _ := newService(t, nil)
	require.NoError(t, svc.KickMember(context.Background(), "C1", "U1"))

	rows := auditRows(t, store, "C1", models.ActionKickAttempt)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].UserID)
	assert.Equal(t, "U1", *rows[0].UserID)
	assert.JSONEq(t, `{"reason":"blacklisted_user"}`, string(rows[0].Details))
}

func TestWarnUser(t *testing.T) {
	svc, store, _ := newService(t, nil)
	require.NoError(t, svc.WarnUser(context.Background(), "C1", "U1", "A1", "flooding"))

	rows := auditRows(t, store, "C1", models.ActionUserWarned)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"reason":"flooding","issued_by":"A1"}`, string(rows[0].Details))
}

// ---------------------------------------------------------------------------
// Settings and admins
// ---------------------------------------------------------------------------

func TestEnsureGroup_BootstrapsSuperAdmins(t *testing.T) {
	svc, _, _ := newService(t, nil, moderation.WithSuperAdmins([]string{"S1", "", "S1", "S2"}))
	ctx := context.Background()

	g, created, err := svc.EnsureGroup(ctx, "C1", "Hikers")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"S1", "S2"}, []string(g.AdminIDs))
	assert.Equal(t, models.DefaultThreshold, g.Threshold)

	_, created, _ = svc.EnsureGroup(ctx, "C1", "Renamed")
	assert.False(t, created)

	assert.True(t, svc.IsAdmin(nil, "S1"))
	assert.False(t, svc.IsAdmin(g, "U1"))
	assert.False(t, svc.IsAdmin(g, ""))
}

func TestUpdateSettings(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()
	_, _, _ = svc.EnsureGroup(ctx, "C1", "")

	zero := 0
	_, err := svc.UpdateSettings(ctx, "C1", "", moderation.SettingsUpdate{Threshold: &zero})
	assert.ErrorIs(t, err, moderation.ErrInvalidThreshold)
	assert.Empty(t, auditRows(t, store, "C1", models.ActionSettingsUpdated), "rejected update writes nothing")

	huge := moderation.MaxThreshold + 1
	_, err = svc.UpdateSettings(ctx, "C1", "", moderation.SettingsUpdate{Threshold: &huge})
	assert.ErrorIs(t, err, moderation.ErrInvalidThreshold)

	_, err = svc.UpdateSettings(ctx, "missing", "", moderation.SettingsUpdate{})
	assert.ErrorIs(t, err, moderation.ErrGroupNotFound)

	eight, name := 8, "Hikers"
	admins := []string{"A1", "A1", "A2"}
	g, err := svc.UpdateSettings(ctx, "C1", "", moderation.SettingsUpdate{Threshold: &eight, GroupName: &name, AdminIDs: &admins})
	require.NoError(t, err)
	assert.Equal(t, 8, g.Threshold)
	assert.Equal(t, "Hikers", g.DisplayName())
	assert.Equal(t, []string{"A1", "A2"}, []string(g.AdminIDs))

	stored, _ := store.GetGroup(ctx, "C1")
	assert.Equal(t, 8, stored.Threshold)

	rows := auditRows(t, store, "C1", models.ActionSettingsUpdated)
	require.Len(t, rows, 1)
	d, _ := rows[0].DecodeDetails()
	assert.Equal(t, []string{"threshold", "group_name", "admin_ids"}, d.(*models.SettingsUpdatedDetails).Changed)
}

func TestSetAdmin(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()
	_, _, _ = svc.EnsureGroup(ctx, "C1", "")

	changed, err := svc.SetAdmin(ctx, "C1", "S1", "U1", true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, _ = svc.SetAdmin(ctx, "C1", "S1", "U1", true)
	assert.False(t, changed)

	g, _ := store.GetGroup(ctx, "C1")
	assert.True(t, g.IsAdmin("U1"))

	changed, _ = svc.SetAdmin(ctx, "C1", "S1", "U1", false)
	assert.True(t, changed)
	assert.Len(t, auditRows(t, store, "C1", models.ActionAdminChanged), 2)

	_, err = svc.SetAdmin(ctx, "missing", "S1", "U1", true)
	assert.ErrorIs(t, err, moderation.ErrGroupNotFound)
}

// ---------------------------------------------------------------------------
// Analysis and statistics
// ---------------------------------------------------------------------------

func TestAnalyzeSuspiciousActivity(t *testing.T) {
	t.Run("quiet group", func(t *testing.T) {
		svc, _, _ := newService(t, nil)
		ctx := context.Background()
		recordJoin(t, svc, "C1", "U1")
		require.NoError(t, svc.Record(ctx, models.NewAuditLog("C1", "U1", models.MessageDetails{Text: "hi"})))

		a, err := svc.AnalyzeSuspiciousActivity(ctx, "C1", 0)
		require.NoError(t, err)
		assert.False(t, a.IsSuspicious)
		assert.Equal(t, 1, a.Stats.MemberJoin)
		assert.Equal(t, 1, a.Stats.Message)
		assert.Equal(t, 2, a.Stats.TotalEvents)
	})

	t.Run("many joins", func(t *testing.T) {
		svc, _, _ := newService(t, nil)
		for i := 0; i < 11; i++ {
			recordJoin(t, svc, "C1", "U")
		}
		a, err := svc.AnalyzeSuspiciousActivity(context.Background(), "C1", 5*time.Minute)
		require.NoError(t, err)
		assert.True(t, a.IsSuspicious)
	})

	t.Run("flagged row", func(t *testing.T) {
		svc, _, _ := newService(t, nil)
		row := models.NewAuditLog("C1", "", models.MemberJoinDetails{MemberCount: 1, MemberIDs: []string{"U"}})
		row.IsSuspicious = true
		require.NoError(t, svc.Record(context.Background(), row))

		a, _ := svc.AnalyzeSuspiciousActivity(context.Background(), "C1", 5*time.Minute)
		assert.True(t, a.IsSuspicious)
		assert.Equal(t, 1, a.Stats.SuspiciousEvents)
	})

	t.Run("outside window", func(t *testing.T) {
		svc, _, clock := newService(t, nil)
		for i := 0; i < 60; i++ {
			recordJoin(t, svc, "C1", "U")
		}
		clock.advance(6 * time.Minute)
		a, _ := svc.AnalyzeSuspiciousActivity(context.Background(), "C1", 5*time.Minute)
		assert.False(t, a.IsSuspicious)
		assert.Zero(t, a.Stats.TotalEvents)
	})
}

func TestGetGroupStatistics(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.GetGroupStatistics(ctx, "C1")
	assert.ErrorIs(t, err, moderation.ErrGroupNotFound)

	g, _, _ := svc.EnsureGroup(ctx, "C1", "Hikers")
	require.NoError(t, svc.AddMember(ctx, g, "U1", "Alice"))
	require.NoError(t, svc.AddMember(ctx, g, "U2", ""))
	_, _ = svc.BlockUser(ctx, "C1", "U3", "")
	_, _ = svc.BlockUser(ctx, "", "U4", "")
	_, _ = svc.SetAdmin(ctx, "C1", "", "U1", true)

	stats, err := svc.GetGroupStatistics(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MemberCount)
	assert.Equal(t, 1, stats.AdminCount)
	assert.Equal(t, 1, stats.BlacklistCount, "global entries are not counted per group")
	assert.Equal(t, models.DefaultThreshold, stats.Threshold)
	assert.Equal(t, 2, stats.RecentActivity24h)

	members, _ := store.ListMembers(ctx, "C1")
	require.Len(t, members, 2)
	assert.True(t, members[0].IsAdmin)

	global, err := svc.GlobalStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, global.TotalGroups)
	assert.Equal(t, 2, global.TotalBlacklist)
}

// ---------------------------------------------------------------------------
// Shipping
// ---------------------------------------------------------------------------

type chanShipper struct{ ch chan *audit.LogEntry }

func (c *chanShipper) Ship(_ context.Context, e *audit.LogEntry) error {
	c.ch <- e
	return nil
}
func (c *chanShipper) Close() error { return nil }

func TestRecord_ShipsEntry(t *testing.T) {
	shipper := &chanShipper{ch: make(chan *audit.LogEntry, 1)}
	svc, _, _ := newService(t, nil, moderation.WithShipper(shipper))

	require.NoError(t, svc.Record(context.Background(), models.NewAuditLog("C1", "", models.BotJoinDetails{})))

	select {
	case e := <-shipper.ch:
		assert.Equal(t, "bot_join", e.Action)
		assert.Equal(t, int64(1), e.LogID)
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not shipped")
	}
}

func TestDrain_WaitsForShipments(t *testing.T) {
	shipper := &chanShipper{ch: make(chan *audit.LogEntry, 4)}
	svc, _, _ := newService(t, nil, moderation.WithShipper(shipper))

	for range 3 {
		require.NoError(t, svc.Record(context.Background(), models.NewAuditLog("C1", "", models.BotLeaveDetails{})))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
	assert.Len(t, shipper.ch, 3)
}
