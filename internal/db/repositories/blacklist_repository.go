// blacklist_repository.go implements BlacklistRepository. Entries with a NULL
// group_id are global and apply to every group.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groupguard/groupguard/internal/db/models"
)

const blacklistColumns = `id, user_id, group_id, reason, blocked_at`

// BlacklistRepository handles blacklist database operations
type BlacklistRepository struct {
	db *sqlx.DB
}

// NewBlacklistRepository creates a new BlacklistRepository
func NewBlacklistRepository(db *sqlx.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// CreateBlacklistEntry inserts e and appends entry in one transaction. It
// returns false without writing anything when the user is already listed in
// the same scope.
func (r *BlacklistRepository) CreateBlacklistEntry(ctx context.Context, e *models.BlacklistEntry, entry *models.AuditLog) (bool, error) {
	if e.BlockedAt.IsZero() {
		e.BlockedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() // nolint:errcheck

	query := `
		INSERT INTO blacklist (user_id, group_id, reason, blocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, (COALESCE(group_id, ''))) DO NOTHING
		RETURNING id`

	err = tx.QueryRowxContext(ctx, query, e.UserID, e.GroupID, e.Reason, e.BlockedAt).Scan(&e.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert blacklist entry for %s: %w", e.UserID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET is_blocked = TRUE WHERE user_id = $1 AND ($2::text IS NULL OR group_id = $2)`,
		e.UserID, e.GroupID,
	); err != nil {
		return false, fmt.Errorf("flag blocked member: %w", err)
	}

	if entry != nil {
		if err := insertAuditLog(ctx, tx, entry); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteBlacklistEntry removes the user's entry in the given scope (nil group
// = global) and appends entry in one transaction. It returns false when no
// such entry exists.
func (r *BlacklistRepository) DeleteBlacklistEntry(ctx context.Context, groupID *string, userID string, entry *models.AuditLog) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() // nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`DELETE FROM blacklist WHERE user_id = $1 AND group_id IS NOT DISTINCT FROM $2`,
		userID, groupID,
	)
	if err != nil {
		return false, fmt.Errorf("delete blacklist entry for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET is_blocked = FALSE WHERE user_id = $1 AND ($2::text IS NULL OR group_id = $2)`,
		userID, groupID,
	); err != nil {
		return false, fmt.Errorf("clear blocked member flag: %w", err)
	}

	if entry != nil {
		if err := insertAuditLog(ctx, tx, entry); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// FindBlacklistEntry returns the entry blocking userID in groupID: a
// group-specific entry if there is one, otherwise a global entry, otherwise nil.
func (r *BlacklistRepository) FindBlacklistEntry(ctx context.Context, groupID, userID string) (*models.BlacklistEntry, error) {
	query := `
		SELECT ` + blacklistColumns + ` FROM blacklist
		WHERE user_id = $1 AND (group_id = $2 OR group_id IS NULL)
		ORDER BY group_id NULLS LAST
		LIMIT 1`

	var entry models.BlacklistEntry
	err := r.db.GetContext(ctx, &entry, query, userID, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListBlacklist lists the entries scoped to groupID, or the global entries
// when groupID is nil, newest first
func (r *BlacklistRepository) ListBlacklist(ctx context.Context, groupID *string) ([]*models.BlacklistEntry, error) {
	entries := make([]*models.BlacklistEntry, 0)
	query := `SELECT ` + blacklistColumns + ` FROM blacklist WHERE group_id IS NOT DISTINCT FROM $1 ORDER BY blocked_at DESC, id DESC`
	if err := r.db.SelectContext(ctx, &entries, query, groupID); err != nil {
		return nil, err
	}
	return entries, nil
}

// CountBlacklist counts the entries scoped to groupID (global entries excluded)
func (r *BlacklistRepository) CountBlacklist(ctx context.Context, groupID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM blacklist WHERE group_id = $1`, groupID)
	return count, err
}
