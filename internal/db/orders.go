package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

const orderColumns = "id, client_order_id, user_id, symbol, side, type, quantity, limit_price, filled_price, notional, fee, status, reject_reason, created_at, filled_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.ClientOrderID, &o.UserID, &o.Symbol, &o.Side, &o.Type, &o.Quantity, &o.LimitPrice,
		&o.FilledPrice, &o.Notional, &o.Fee, &o.Status, &o.RejectReason, &o.CreatedAt, &o.FilledAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return o, nil
}

// CreateOrder inserts a new order
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	// Validate order
	if order.Side != models.SideBuy && order.Side != models.SideSell {
		return nil, fmt.Errorf("side must be 'buy' or 'sell'")
	}
	if !order.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}

	newOrder, err := scanOrder(db.conn(ctx).QueryRow(ctx,
		`INSERT INTO orders (client_order_id, user_id, symbol, side, type, quantity, limit_price, filled_price, notional, fee, status, filled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING `+orderColumns,
		order.ClientOrderID, order.UserID, order.Symbol, string(order.Side), string(order.Type), order.Quantity,
		order.LimitPrice, order.FilledPrice, order.Notional, order.Fee, string(order.Status), order.FilledAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(db.conn(ctx).QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// ListOrders retrieves orders matching the filter, newest first
func (db *DB) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, error) {
	q := db.builder.Select(orderColumns).From("orders").OrderBy("created_at DESC", "id DESC")
	if f.UserID != 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Symbol != "" {
		q = q.Where(sq.Eq{"symbol": f.Symbol})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}

	rows, err := db.query(ctx, paginate(q, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Order])
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return orders, nil
}

// GetOpenOrders retrieves all open orders from the database
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.conn(ctx).Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'open'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Order])
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return orders, nil
}

// MarkOrderFilled records the execution of an open order
func (db *DB) MarkOrderFilled(ctx context.Context, id int64, price, notional, fee decimal.Decimal, filledAt time.Time) error {
	tag, err := db.conn(ctx).Exec(ctx,
		`UPDATE orders SET status = 'filled', filled_price = $1, notional = $2, fee = $3, filled_at = $4
		 WHERE id = $5 AND status = 'open'`,
		price, notional, fee, filledAt, id)
	if err != nil {
		return fmt.Errorf("failed to fill order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to fill order %d: %w", id, store.ErrOrderNotOpen)
	}
	return nil
}

// MarkOrderRejected closes an open order that could not be executed
func (db *DB) MarkOrderRejected(ctx context.Context, id int64, reason string) error {
	tag, err := db.conn(ctx).Exec(ctx,
		"UPDATE orders SET status = 'rejected', reject_reason = $1 WHERE id = $2 AND status = 'open'",
		reason, id)
	if err != nil {
		return fmt.Errorf("failed to reject order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to reject order %d: %w", id, store.ErrOrderNotOpen)
	}
	return nil
}

// CancelOrder cancels an order if it belongs to the user and is open
func (db *DB) CancelOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	var canceled *models.Order
	err := db.WithinTransaction(ctx, func(ctx context.Context) error {
		// Lock the row for update to prevent concurrent fills
		var status string
		err := db.conn(ctx).QueryRow(ctx,
			"SELECT status FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE",
			orderID, userID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to get order: %w", err)
		}

		if status != string(models.OrderOpen) {
			return store.ErrOrderNotOpen
		}

		canceled, err = scanOrder(db.conn(ctx).QueryRow(ctx,
			"UPDATE orders SET status = 'canceled' WHERE id = $1 AND user_id = $2 AND status = 'open' RETURNING "+orderColumns,
			orderID, userID))
		if err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canceled, nil
}
