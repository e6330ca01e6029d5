package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

const userColumns = "id, username, email, password_hash, role, roles, balance, kyc_status, kyc_verified, two_factor_enabled, status, created_at, updated_at"

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.Roles,
		&user.Balance, &user.KYCStatus, &user.KYCVerified, &user.TwoFactorEnabled, &user.Status,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return user, nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	roles := user.Roles
	if len(roles) == 0 {
		roles = []string{user.Role}
	}
	created, err := scanUser(db.conn(ctx).QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, role, roles, balance, kyc_status, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING `+userColumns,
		user.Username, user.Email, user.PasswordHash, user.Role, roles, user.Balance, user.KYCStatus, user.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(db.conn(ctx).QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(db.conn(ctx).QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE LOWER(email) = LOWER($1)", email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(db.conn(ctx).QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserForUpdate retrieves a user and locks the row for the current transaction
func (db *DB) GetUserForUpdate(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(db.conn(ctx).QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

// UpdateUserBalance overwrites a user's balance
func (db *DB) UpdateUserBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	tag, err := db.conn(ctx).Exec(ctx, "UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2", balance, id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update balance: %w", store.ErrNotFound)
	}
	return nil
}

// UpdateUser applies the non-nil fields of upd
func (db *DB) UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	q := db.builder.Update("users").Where(sq.Eq{"id": id})
	changed := false
	if upd.Role != nil {
		q = q.Set("role", *upd.Role)
		changed = true
	}
	if upd.Roles != nil {
		q = q.Set("roles", upd.Roles)
		changed = true
	}
	if upd.Status != nil {
		q = q.Set("status", string(*upd.Status))
		changed = true
	}
	if upd.TwoFactorEnabled != nil {
		q = q.Set("two_factor_enabled", *upd.TwoFactorEnabled)
		changed = true
	}
	if !changed {
		return db.GetUserByID(ctx, id)
	}

	sql, args, err := q.Set("updated_at", sq.Expr("NOW()")).Suffix("RETURNING " + userColumns).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	user, err := scanUser(db.conn(ctx).QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// SetUserKYCStatus mirrors the KYC review state onto the user row
func (db *DB) SetUserKYCStatus(ctx context.Context, id int64, status models.KYCStatus) error {
	tag, err := db.conn(ctx).Exec(ctx,
		"UPDATE users SET kyc_status = $1, kyc_verified = $2, updated_at = NOW() WHERE id = $3",
		string(status), status == models.KYCApproved, id)
	if err != nil {
		return fmt.Errorf("failed to update kyc status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update kyc status: %w", store.ErrNotFound)
	}
	return nil
}

// ListUsers retrieves users matching the filter
func (db *DB) ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, error) {
	q := db.builder.Select(userColumns).From("users").OrderBy("id")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Role != "" {
		q = q.Where(sq.Or{sq.Eq{"role": f.Role}, sq.Expr("? = ANY(roles)", f.Role)})
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q = q.Where(sq.Or{sq.ILike{"username": pattern}, sq.ILike{"email": pattern}})
	}

	rows, err := db.query(ctx, paginate(q, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.User])
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}
