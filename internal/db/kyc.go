package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

const kycColumns = "user_id, full_name, date_of_birth, country, document_type, document_number, address, status, review_note, reviewed_by, submitted_at, reviewed_at"

func scanKYC(row pgx.Row) (*models.KYCData, error) {
	k := &models.KYCData{}
	err := row.Scan(&k.UserID, &k.FullName, &k.DateOfBirth, &k.Country, &k.DocumentType, &k.DocumentNumber,
		&k.Address, &k.Status, &k.ReviewNote, &k.ReviewedBy, &k.SubmittedAt, &k.ReviewedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return k, nil
}

// UpsertKYC stores a (re)submission, clearing any previous review
func (db *DB) UpsertKYC(ctx context.Context, k *models.KYCData) (*models.KYCData, error) {
	saved, err := scanKYC(db.conn(ctx).QueryRow(ctx, `
		INSERT INTO kyc_data (user_id, full_name, date_of_birth, country, document_type, document_number, address, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			date_of_birth = EXCLUDED.date_of_birth,
			country = EXCLUDED.country,
			document_type = EXCLUDED.document_type,
			document_number = EXCLUDED.document_number,
			address = EXCLUDED.address,
			status = EXCLUDED.status,
			review_note = '',
			reviewed_by = NULL,
			reviewed_at = NULL,
			submitted_at = NOW()
		RETURNING `+kycColumns,
		k.UserID, k.FullName, k.DateOfBirth, k.Country, k.DocumentType, k.DocumentNumber, k.Address, string(k.Status)))
	if err != nil {
		return nil, fmt.Errorf("failed to save kyc data: %w", err)
	}
	return saved, nil
}

// GetKYC retrieves a user's KYC submission
func (db *DB) GetKYC(ctx context.Context, userID int64) (*models.KYCData, error) {
	k, err := scanKYC(db.conn(ctx).QueryRow(ctx, "SELECT "+kycColumns+" FROM kyc_data WHERE user_id = $1", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get kyc data: %w", err)
	}
	return k, nil
}

// ListKYC retrieves submissions, optionally by status, oldest first
func (db *DB) ListKYC(ctx context.Context, status models.KYCStatus) ([]models.KYCData, error) {
	q := db.builder.Select(kycColumns).From("kyc_data").OrderBy("submitted_at ASC")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}

	rows, err := db.query(ctx, paginate(q, maxListLimit, 0))
	if err != nil {
		return nil, fmt.Errorf("failed to list kyc data: %w", err)
	}
	list, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.KYCData])
	if err != nil {
		return nil, fmt.Errorf("failed to scan kyc data: %w", err)
	}
	return list, nil
}

// UpdateKYCStatus records the review of a pending submission
func (db *DB) UpdateKYCStatus(ctx context.Context, userID int64, status models.KYCStatus, reviewerID int64, note string) error {
	tag, err := db.conn(ctx).Exec(ctx,
		`UPDATE kyc_data SET status = $1, reviewed_by = $2, review_note = $3, reviewed_at = NOW()
		 WHERE user_id = $4 AND status = 'pending'`,
		string(status), reviewerID, note, userID)
	if err != nil {
		return fmt.Errorf("failed to update kyc status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("kyc for user %d: %w", userID, store.ErrNotPending)
	}
	return nil
}
