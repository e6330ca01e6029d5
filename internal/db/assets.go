package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

const assetColumns = "id, user_id, symbol, quantity, average_price, created_at, updated_at"

func scanAsset(row pgx.Row) (*models.Asset, error) {
	asset := &models.Asset{}
	err := row.Scan(&asset.ID, &asset.UserID, &asset.Symbol, &asset.Quantity, &asset.AveragePrice, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return asset, nil
}

// GetAssetForUpdate retrieves a user's position in symbol and locks it
func (db *DB) GetAssetForUpdate(ctx context.Context, userID int64, symbol string) (*models.Asset, error) {
	asset, err := scanAsset(db.conn(ctx).QueryRow(ctx,
		"SELECT "+assetColumns+" FROM assets WHERE user_id = $1 AND symbol = $2 FOR UPDATE",
		userID, symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// GetAssetByID retrieves an asset by id
func (db *DB) GetAssetByID(ctx context.Context, id int64) (*models.Asset, error) {
	asset, err := scanAsset(db.conn(ctx).QueryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = $1", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// ListAssets retrieves positions matching the filter
func (db *DB) ListAssets(ctx context.Context, f models.AssetFilter) ([]models.Asset, error) {
	q := db.builder.Select(assetColumns).From("assets").OrderBy("user_id", "symbol")
	if f.UserID != 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Symbol != "" {
		q = q.Where(sq.Eq{"symbol": f.Symbol})
	}

	rows, err := db.query(ctx, paginate(q, f.Limit, f.Offset))
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	assets, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Asset])
	if err != nil {
		return nil, fmt.Errorf("failed to scan assets: %w", err)
	}
	return assets, nil
}

// CreateAsset inserts a new position
func (db *DB) CreateAsset(ctx context.Context, asset *models.Asset) (*models.Asset, error) {
	created, err := scanAsset(db.conn(ctx).QueryRow(ctx,
		"INSERT INTO assets (user_id, symbol, quantity, average_price) VALUES ($1, $2, $3, $4) RETURNING "+assetColumns,
		asset.UserID, asset.Symbol, asset.Quantity, asset.AveragePrice))
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	return created, nil
}

// UpdateAsset writes quantity and average price
func (db *DB) UpdateAsset(ctx context.Context, asset *models.Asset) error {
	tag, err := db.conn(ctx).Exec(ctx,
		"UPDATE assets SET quantity = $1, average_price = $2, updated_at = NOW() WHERE id = $3",
		asset.Quantity, asset.AveragePrice, asset.ID)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update asset: %w", store.ErrNotFound)
	}
	return nil
}

// DeleteAsset removes a position
func (db *DB) DeleteAsset(ctx context.Context, id int64) error {
	tag, err := db.conn(ctx).Exec(ctx, "DELETE FROM assets WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete asset: %w", store.ErrNotFound)
	}
	return nil
}
