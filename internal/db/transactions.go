package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

const (
	requestColumns = "id, user_id, type, amount, status, note, reviewed_by, reviewed_at, created_at"
	historyColumns = "id, user_id, type, amount, balance_before, balance_after, symbol, quantity, price, order_id, request_id, description, created_at"
)

func scanRequest(row pgx.Row) (*models.TransactionRequest, error) {
	r := &models.TransactionRequest{}
	err := row.Scan(&r.ID, &r.UserID, &r.Type, &r.Amount, &r.Status, &r.Note, &r.ReviewedBy, &r.ReviewedAt, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return r, nil
}

// CreateTransactionRequest inserts a pending deposit or withdrawal request
func (db *DB) CreateTransactionRequest(ctx context.Context, req *models.TransactionRequest) (*models.TransactionRequest, error) {
	created, err := scanRequest(db.conn(ctx).QueryRow(ctx,
		"INSERT INTO transaction_requests (user_id, type, amount, status, note) VALUES ($1, $2, $3, $4, $5) RETURNING "+requestColumns,
		req.UserID, string(req.Type), req.Amount, string(req.Status), req.Note))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction request: %w", err)
	}
	return created, nil
}

// GetTransactionRequestForUpdate retrieves a request and locks it
func (db *DB) GetTransactionRequestForUpdate(ctx context.Context, id int64) (*models.TransactionRequest, error) {
	req, err := scanRequest(db.conn(ctx).QueryRow(ctx,
		"SELECT "+requestColumns+" FROM transaction_requests WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction request: %w", err)
	}
	return req, nil
}

// ListTransactionRequests retrieves requests matching the filter, newest first
func (db *DB) ListTransactionRequests(ctx context.Context, f models.RequestFilter) ([]models.TransactionRequest, error) {
	q := db.builder.Select(requestColumns).From("transaction_requests").OrderBy("created_at DESC", "id DESC")
	if f.UserID != 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}

	rows, err := db.query(ctx, paginate(q, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction requests: %w", err)
	}
	reqs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.TransactionRequest])
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction requests: %w", err)
	}
	return reqs, nil
}

// UpdateTransactionRequestStatus moves a pending request to its final state
func (db *DB) UpdateTransactionRequestStatus(ctx context.Context, id int64, status models.RequestStatus, reviewerID int64, note string) error {
	tag, err := db.conn(ctx).Exec(ctx,
		`UPDATE transaction_requests SET status = $1, reviewed_by = $2, reviewed_at = NOW(), note = $3
		 WHERE id = $4 AND status = 'pending'`,
		string(status), reviewerID, note, id)
	if err != nil {
		return fmt.Errorf("failed to update transaction request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction request %d: %w", id, store.ErrNotPending)
	}
	return nil
}

// CreateTransactionHistory appends a balance movement
func (db *DB) CreateTransactionHistory(ctx context.Context, h *models.TransactionHistory) (*models.TransactionHistory, error) {
	created := &models.TransactionHistory{}
	err := db.conn(ctx).QueryRow(ctx,
		`INSERT INTO transaction_history (user_id, type, amount, balance_before, balance_after, symbol, quantity, price, order_id, request_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING `+historyColumns,
		h.UserID, string(h.Type), h.Amount, h.BalanceBefore, h.BalanceAfter, h.Symbol, h.Quantity, h.Price,
		h.OrderID, h.RequestID, h.Description).Scan(
		&created.ID, &created.UserID, &created.Type, &created.Amount, &created.BalanceBefore, &created.BalanceAfter,
		&created.Symbol, &created.Quantity, &created.Price, &created.OrderID, &created.RequestID,
		&created.Description, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction history: %w", mapErr(err))
	}
	return created, nil
}

// ListTransactionHistory retrieves balance movements matching the filter, newest first
func (db *DB) ListTransactionHistory(ctx context.Context, f models.HistoryFilter) ([]models.TransactionHistory, error) {
	q := db.builder.Select(historyColumns).From("transaction_history").OrderBy("created_at DESC", "id DESC")
	if f.UserID != 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": string(f.Type)})
	}

	rows, err := db.query(ctx, paginate(q, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction history: %w", err)
	}
	history, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.TransactionHistory])
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction history: %w", err)
	}
	return history, nil
}
