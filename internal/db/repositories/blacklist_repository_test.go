package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/groupguard/groupguard/internal/db/models"
)

var blacklistCols = []string{"id", "user_id", "group_id", "reason", "blocked_at"}

func newBlacklistRepo(t *testing.T) (*BlacklistRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewBlacklistRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateBlacklistEntry
// ---------------------------------------------------------------------------

func TestCreateBlacklistEntry_Created(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO blacklist.*ON CONFLICT").
		WithArgs("U1", "C1", "spam", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("UPDATE members SET is_blocked = TRUE").
		WithArgs("U1", "C1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"log_id"}).AddRow(int64(9)))
	mock.ExpectCommit()

	e := &models.BlacklistEntry{UserID: "U1", GroupID: strPtr("C1"), Reason: strPtr("spam")}
	entry := models.NewAuditLog("C1", "U1", models.UserBlockedDetails{Reason: e.Reason})
	created, err := repo.CreateBlacklistEntry(context.Background(), e, entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if e.ID != 3 || e.BlockedAt.IsZero() {
		t.Errorf("entry = %+v", e)
	}
}

func TestCreateBlacklistEntry_GlobalWithoutAudit(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO blacklist").
		WithArgs("U1", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectExec("UPDATE members SET is_blocked = TRUE").
		WithArgs("U1", nil).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	created, err := repo.CreateBlacklistEntry(context.Background(), &models.BlacklistEntry{UserID: "U1"}, nil)
	if err != nil || !created {
		t.Errorf("CreateBlacklistEntry() = %v, %v; want true, nil", created, err)
	}
}

func TestCreateBlacklistEntry_AlreadyListed(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO blacklist").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	e := &models.BlacklistEntry{UserID: "U1", GroupID: strPtr("C1")}
	created, err := repo.CreateBlacklistEntry(context.Background(), e, models.NewAuditLog("C1", "U1", models.UserBlockedDetails{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("created = true, want false")
	}
}

func TestCreateBlacklistEntry_DBError(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO blacklist").WillReturnError(errDB)
	mock.ExpectRollback()

	if _, err := repo.CreateBlacklistEntry(context.Background(), &models.BlacklistEntry{UserID: "U1"}, nil); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// DeleteBlacklistEntry
// ---------------------------------------------------------------------------

func TestDeleteBlacklistEntry_Removed(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM blacklist WHERE user_id = \\$1 AND group_id IS NOT DISTINCT FROM \\$2").
		WithArgs("U1", "C1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE members SET is_blocked = FALSE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"log_id"}).AddRow(int64(10)))
	mock.ExpectCommit()

	removed, err := repo.DeleteBlacklistEntry(context.Background(), strPtr("C1"), "U1",
		models.NewAuditLog("C1", "U1", models.UserUnblockedDetails{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Error("removed = false, want true")
	}
}

func TestDeleteBlacklistEntry_NotListed(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM blacklist").
		WithArgs("U1", nil).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	removed, err := repo.DeleteBlacklistEntry(context.Background(), nil, "U1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Error("removed = true, want false")
	}
}

// ---------------------------------------------------------------------------
// FindBlacklistEntry / ListBlacklist / CountBlacklist
// ---------------------------------------------------------------------------

func TestFindBlacklistEntry_Global(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectQuery("SELECT.*FROM blacklist.*ORDER BY group_id NULLS LAST").
		WithArgs("U1", "C1").
		WillReturnRows(sqlmock.NewRows(blacklistCols).AddRow(int64(1), "U1", nil, "raider", time.Now()))

	e, err := repo.FindBlacklistEntry(context.Background(), "C1", "U1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e == nil || !e.IsGlobal() || e.ReasonOr("") != "raider" {
		t.Errorf("entry = %+v, want global entry with reason", e)
	}
}

func TestFindBlacklistEntry_NotFound(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectQuery("SELECT.*FROM blacklist").WillReturnRows(sqlmock.NewRows(blacklistCols))

	e, err := repo.FindBlacklistEntry(context.Background(), "C1", "U1")
	if err != nil || e != nil {
		t.Errorf("FindBlacklistEntry() = %+v, %v; want nil, nil", e, err)
	}
}

func TestListBlacklist(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectQuery("SELECT.*FROM blacklist WHERE group_id IS NOT DISTINCT FROM \\$1").
		WithArgs("C1").
		WillReturnRows(sqlmock.NewRows(blacklistCols).
			AddRow(int64(2), "U2", "C1", nil, time.Now()).
			AddRow(int64(1), "U1", "C1", "spam", time.Now().Add(-time.Hour)))

	entries, err := repo.ListBlacklist(context.Background(), strPtr("C1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Reason != nil {
		t.Errorf("entries[0].Reason = %v, want nil", *entries[0].Reason)
	}
}

func TestCountBlacklist_DBError(t *testing.T) {
	repo, mock := newBlacklistRepo(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM blacklist").WillReturnError(errDB)

	if _, err := repo.CountBlacklist(context.Background(), "C1"); err == nil {
		t.Error("expected error, got nil")
	}
}
