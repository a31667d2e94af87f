package withdrawals

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const requestColumns = `id, event_id, user_id, amount, status, money_state, approved_by, approved_at, rejected_by, rejected_at, rejection_reason, created_at`

func scanRequest(row pgx.Row) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := row.Scan(&w.ID, &w.EventID, &w.UserID, &w.Amount, &w.Status, &w.MoneyState,
		&w.ApprovedBy, &w.ApprovedAt, &w.RejectedBy, &w.RejectedAt, &w.RejectionReason, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, event_id, user_id, amount, status, money_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, w.ID, w.EventID, w.UserID, w.Amount, w.Status, w.MoneyState).Scan(&w.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1
	`, id))
}

func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests WHERE event_id = $1 ORDER BY created_at DESC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WithdrawalRequest
	for rows.Next() {
		w, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

// SumActiveForEvent totals pending and approved request amounts; rejected
// requests release their slice of the cap.
func (r *Repository) SumActiveForEvent(ctx context.Context, eventID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM withdrawal_requests
		WHERE event_id = $1 AND status IN ('pending', 'approved')
	`, eventID).Scan(&sum)
	return sum, err
}

// HasAllottedGift reports whether any gift collected under the event has been
// converted to an asset.
func (r *Repository) HasAllottedGift(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM gifts WHERE event_id = $1 AND status = 'allotted')
	`, eventID).Scan(&exists)
	return exists, err
}

// MarkApprovedTx flips pending -> approved inside the caller's transaction.
// The status guard in the WHERE clause is the state machine: a request that
// is no longer pending matches no row and pgx.ErrNoRows comes back.
func (r *Repository) MarkApprovedTx(ctx context.Context, tx pgx.Tx, id, approver uuid.UUID, at time.Time) (userID uuid.UUID, amount decimal.Decimal, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = 'approved', money_state = 'withdrawn', approved_by = $1, approved_at = $2
		WHERE id = $3 AND status = 'pending'
		RETURNING user_id, amount
	`, approver, at, id).Scan(&userID, &amount)
	return userID, amount, err
}

// MarkRejectedTx flips pending -> rejected inside the caller's transaction.
func (r *Repository) MarkRejectedTx(ctx context.Context, tx pgx.Tx, id, rejecter uuid.UUID, at time.Time, reason string) (userID uuid.UUID, amount decimal.Decimal, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = 'rejected', money_state = 'alloting', rejected_by = $1, rejected_at = $2, rejection_reason = $3
		WHERE id = $4 AND status = 'pending'
		RETURNING user_id, amount
	`, rejecter, at, reason, id).Scan(&userID, &amount)
	return userID, amount, err
}
