// audit_repository.go implements AuditRepository, providing append and query
// operations over the audit_logs table. Rows are never updated or deleted.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/groupguard/groupguard/internal/db/models"
)

const auditColumns = `log_id, group_id, user_id, action, details, timestamp, is_suspicious`

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// insertAuditLog appends entry using q, which may be the pool or an open
// transaction, and stores the generated log id on entry.
func insertAuditLog(ctx context.Context, q sqlx.QueryerContext, entry *models.AuditLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_logs (group_id, user_id, action, details, timestamp, is_suspicious)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING log_id`

	err := q.QueryRowxContext(ctx, query,
		entry.GroupID,
		entry.UserID,
		entry.Action,
		entry.Details,
		entry.Timestamp,
		entry.IsSuspicious,
	).Scan(&entry.LogID)
	if err != nil {
		return fmt.Errorf("insert audit log %s: %w", entry.Action, err)
	}
	return nil
}

// CreateAuditLog appends a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return insertAuditLog(ctx, r.db, entry)
}

// ListAuditLogsSince returns a group's rows at or after since, oldest first.
// An empty action matches every action.
func (r *AuditRepository) ListAuditLogsSince(ctx context.Context, groupID string, action models.AuditAction, since time.Time) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE group_id = $1 AND timestamp >= $2`
	args := []interface{}{groupID, since}
	if action != "" {
		query += ` AND action = $3`
		args = append(args, action)
	}
	query += ` ORDER BY timestamp ASC`

	logs := make([]*models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, err
	}
	return logs, nil
}

// CountAuditLogsSince counts a group's rows at or after since
func (r *AuditRepository) CountAuditLogsSince(ctx context.Context, groupID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM audit_logs WHERE group_id = $1 AND timestamp >= $2`
	err := r.db.GetContext(ctx, &count, query, groupID, since)
	return count, err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination,
// newest first, along with the total number of matching rows
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditLog, int, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0, 5)
	paramIndex := 1

	if filter.GroupID != "" {
		where += fmt.Sprintf(` AND group_id = $%d`, paramIndex)
		args = append(args, filter.GroupID)
		paramIndex++
	}

	if filter.Action != "" {
		where += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, filter.Action)
		paramIndex++
	}

	if filter.SuspiciousOnly {
		where += ` AND is_suspicious = TRUE`
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY timestamp DESC, log_id DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	logs := make([]*models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// GlobalStatistics aggregates counts across all groups in one round trip
func (r *AuditRepository) GlobalStatistics(ctx context.Context, since time.Time) (*models.GlobalStatistics, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM groups) AS total_groups,
			(SELECT COUNT(*) FROM members) AS total_members,
			(SELECT COUNT(*) FROM blacklist) AS total_blacklist,
			(SELECT COUNT(*) FROM audit_logs WHERE timestamp >= $1) AS recent_activity_24h,
			(SELECT COUNT(*) FROM audit_logs WHERE timestamp >= $1 AND is_suspicious) AS suspicious_activity_24h`

	var stats models.GlobalStatistics
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return nil, err
	}
	return &stats, nil
}
