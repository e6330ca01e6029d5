package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

// CreateAuditLog appends an audit record
func (db *DB) CreateAuditLog(ctx context.Context, l *models.AuditLog) error {
	details := l.Details
	if details == nil {
		details = map[string]any{}
	}
	err := db.conn(ctx).QueryRow(ctx,
		"INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		l.ActorID, l.Action, l.EntityType, l.EntityID, details).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// ListAuditLogs retrieves audit records matching the filter, newest first
func (db *DB) ListAuditLogs(ctx context.Context, f models.AuditFilter) ([]models.AuditLog, error) {
	q := db.builder.Select("id, actor_id, action, entity_type, entity_id, details, created_at").
		From("audit_logs").OrderBy("created_at DESC", "id DESC")
	if f.ActorID != 0 {
		q = q.Where(sq.Eq{"actor_id": f.ActorID})
	}
	if f.Action != "" {
		q = q.Where(sq.Eq{"action": f.Action})
	}
	if f.EntityType != "" {
		q = q.Where(sq.Eq{"entity_type": f.EntityType})
	}

	rows, err := db.query(ctx, paginate(q, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	logs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.AuditLog])
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit logs: %w", err)
	}
	return logs, nil
}

// CreateAlert inserts a user notification
func (db *DB) CreateAlert(ctx context.Context, a *models.Alert) error {
	err := db.conn(ctx).QueryRow(ctx,
		"INSERT INTO alerts (user_id, type, title, message) VALUES ($1, $2, $3, $4) RETURNING id, read, created_at",
		a.UserID, string(a.Type), a.Title, a.Message).Scan(&a.ID, &a.Read, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// ListAlerts retrieves a user's alerts, newest first
func (db *DB) ListAlerts(ctx context.Context, userID int64, unreadOnly bool) ([]models.Alert, error) {
	q := db.builder.Select("id, user_id, type, title, message, read, created_at").
		From("alerts").Where(sq.Eq{"user_id": userID}).OrderBy("created_at DESC", "id DESC")
	if unreadOnly {
		q = q.Where(sq.Eq{"read": false})
	}

	rows, err := db.query(ctx, paginate(q, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Alert])
	if err != nil {
		return nil, fmt.Errorf("failed to scan alerts: %w", err)
	}
	return alerts, nil
}

// MarkAlertRead flags one of the user's alerts as read
func (db *DB) MarkAlertRead(ctx context.Context, id, userID int64) error {
	tag, err := db.conn(ctx).Exec(ctx, "UPDATE alerts SET read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %d: %w", id, store.ErrNotFound)
	}
	return nil
}
