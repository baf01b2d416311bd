// group_repository.go implements GroupRepository, providing queries for the
// monitored groups and their settings.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/groupguard/groupguard/internal/db/models"
)

const groupColumns = `group_id, group_name, admin_ids, threshold, created_at`

// GroupRepository handles group database operations
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository creates a new GroupRepository
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// GetGroup retrieves a group by id. It returns nil, nil when the group does not exist.
func (r *GroupRepository) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var group models.Group
	query := `SELECT ` + groupColumns + ` FROM groups WHERE group_id = $1`
	err := r.db.GetContext(ctx, &group, query, groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroups lists all groups, oldest first
func (r *GroupRepository) ListGroups(ctx context.Context) ([]*models.Group, error) {
	groups := make([]*models.Group, 0)
	query := `SELECT ` + groupColumns + ` FROM groups ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, err
	}
	return groups, nil
}

// CreateGroupIfAbsent inserts group unless a row with the same id exists.
// It returns the stored row and whether it was created by this call.
func (r *GroupRepository) CreateGroupIfAbsent(ctx context.Context, group *models.Group) (*models.Group, bool, error) {
	query := `
		INSERT INTO groups (group_id, group_name, admin_ids, threshold, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id) DO NOTHING
		RETURNING ` + groupColumns

	var created models.Group
	err := r.db.GetContext(ctx, &created, query,
		group.GroupID,
		group.GroupName,
		group.AdminIDs,
		group.Threshold,
		group.CreatedAt,
	)
	if err == nil {
		return &created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create group %s: %w", group.GroupID, err)
	}

	existing, err := r.GetGroup(ctx, group.GroupID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("create group %s: row vanished after conflict", group.GroupID)
	}
	return existing, false, nil
}

// UpdateGroup writes the group's name, admin list and threshold, mirrors the
// admin list onto member rows, and appends entry, all in one transaction.
// entry may be nil.
func (r *GroupRepository) UpdateGroup(ctx context.Context, group *models.Group, entry *models.AuditLog) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE groups SET group_name = $2, admin_ids = $3, threshold = $4 WHERE group_id = $1`,
		group.GroupID, group.GroupName, group.AdminIDs, group.Threshold,
	)
	if err != nil {
		return fmt.Errorf("update group %s: %w", group.GroupID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update group %s: %w", group.GroupID, sql.ErrNoRows)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE members SET is_admin = (user_id = ANY($2)) WHERE group_id = $1`,
		group.GroupID, pq.Array([]string(group.AdminIDs)),
	); err != nil {
		return fmt.Errorf("sync member admin flags: %w", err)
	}

	if entry != nil {
		if err := insertAuditLog(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}
