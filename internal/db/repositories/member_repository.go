// member_repository.go implements MemberRepository for the members table.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/groupguard/groupguard/internal/db/models"
)

const memberColumns = `id, user_id, group_id, display_name, joined_at, is_admin, is_blocked`

// MemberRepository handles group membership database operations
type MemberRepository struct {
	db *sqlx.DB
}

// NewMemberRepository creates a new MemberRepository
func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// UpsertMember inserts the member or refreshes the existing (user, group) row.
// A known display name is kept when the new one is empty.
func (r *MemberRepository) UpsertMember(ctx context.Context, member *models.Member) error {
	query := `
		INSERT INTO members (user_id, group_id, display_name, joined_at, is_admin, is_blocked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, group_id) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, members.display_name),
			joined_at = EXCLUDED.joined_at,
			is_admin = EXCLUDED.is_admin
		RETURNING id`

	err := r.db.QueryRowxContext(ctx, query,
		member.UserID,
		member.GroupID,
		member.DisplayName,
		member.JoinedAt,
		member.IsAdmin,
		member.IsBlocked,
	).Scan(&member.ID)
	if err != nil {
		return fmt.Errorf("upsert member %s in %s: %w", member.UserID, member.GroupID, err)
	}
	return nil
}

// DeleteMembers removes the given users from a group and returns how many rows went away
func (r *MemberRepository) DeleteMembers(ctx context.Context, groupID string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM members WHERE group_id = $1 AND user_id = ANY($2)`,
		groupID, pq.Array(userIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("delete members from %s: %w", groupID, err)
	}
	return res.RowsAffected()
}

// ListMembers lists a group's members in join order
func (r *MemberRepository) ListMembers(ctx context.Context, groupID string) ([]*models.Member, error) {
	members := make([]*models.Member, 0)
	query := `SELECT ` + memberColumns + ` FROM members WHERE group_id = $1 ORDER BY joined_at ASC, id ASC`
	if err := r.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, err
	}
	return members, nil
}

// CountMembers counts a group's members
func (r *MemberRepository) CountMembers(ctx context.Context, groupID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM members WHERE group_id = $1`, groupID)
	return count, err
}
