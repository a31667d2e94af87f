package kyc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uberoi/giftledger/internal/models"
)

// ErrInvalidStatus is returned for statuses outside pending/approved/rejected.
var ErrInvalidStatus = errors.New("invalid kyc status")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Submit records a user's KYC document reference, resetting the record to
// pending on resubmission.
func (r *Repository) Submit(ctx context.Context, userID uuid.UUID, documentRef string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO kyc_records (user_id, status, document_ref)
		VALUES ($1, 'pending', $2)
		ON CONFLICT (user_id) DO UPDATE
		SET status = 'pending', document_ref = EXCLUDED.document_ref, reviewed_by = NULL, reviewed_at = NULL
	`, userID, documentRef)
	return err
}

// SetStatus records the reviewer's decision.
func (r *Repository) SetStatus(ctx context.Context, userID, reviewer uuid.UUID, status string) error {
	if status != models.KYCApproved && status != models.KYCRejected {
		return ErrInvalidStatus
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE kyc_records SET status = $1, reviewed_by = $2, reviewed_at = now() WHERE user_id = $3
	`, status, reviewer, userID)
	return err
}

// IsApproved reports whether the user holds an approved KYC record. Missing
// records read as not approved, not as an error.
func (r *Repository) IsApproved(ctx context.Context, userID uuid.UUID) (bool, error) {
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT status FROM kyc_records WHERE user_id = $1
	`, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return status == models.KYCApproved, nil
}

// Get returns the user's KYC record.
func (r *Repository) Get(ctx context.Context, userID uuid.UUID) (*models.KYCRecord, error) {
	var rec models.KYCRecord
	var reviewedAt *time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, status, document_ref, reviewed_by, reviewed_at, created_at
		FROM kyc_records WHERE user_id = $1
	`, userID).Scan(&rec.UserID, &rec.Status, &rec.DocumentRef, &rec.ReviewedBy, &reviewedAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.ReviewedAt = reviewedAt
	return &rec, nil
}
