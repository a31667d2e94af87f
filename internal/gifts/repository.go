package gifts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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

const giftColumns = `id, sender_id, receiver_id, receiver_phone, event_id, amount, status, paid, created_at, updated_at`

func scanGift(row pgx.Row) (*models.Gift, error) {
	var g models.Gift
	err := row.Scan(&g.ID, &g.SenderID, &g.ReceiverID, &g.ReceiverPhone, &g.EventID, &g.Amount, &g.Status, &g.Paid, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, g *models.Gift) error {
	return tx.QueryRow(ctx, `
		INSERT INTO gifts (id, sender_id, receiver_id, receiver_phone, event_id, amount, status, paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, g.ID, g.SenderID, g.ReceiverID, g.ReceiverPhone, g.EventID, g.Amount, g.Status, g.Paid).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Gift, error) {
	return scanGift(r.pool.QueryRow(ctx, `SELECT `+giftColumns+` FROM gifts WHERE id = $1`, id))
}

// GetForReceiverTx returns the gift only when receivable by receiverID;
// a wrong owner reads as not found.
func (r *Repository) GetForReceiverTx(ctx context.Context, tx pgx.Tx, giftID, receiverID uuid.UUID) (*models.Gift, error) {
	return scanGift(tx.QueryRow(ctx, `
		SELECT `+giftColumns+` FROM gifts WHERE id = $1 AND receiver_id = $2
	`, giftID, receiverID))
}

func (r *Repository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE gifts SET status = $1, updated_at = now() WHERE id = $2
	`, status, giftID)
	return err
}

// MarkPaidTx flips the paid flag and returns the row as of the flip. The
// paid=FALSE guard makes a replayed payment event a no-op: a nil gift means
// no flip happened. Crediting must use the returned receiver_id, not an
// earlier read; a concurrent claim may have resolved it in between.
func (r *Repository) MarkPaidTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (*models.Gift, error) {
	g, err := scanGift(tx.QueryRow(ctx, `
		UPDATE gifts SET paid = TRUE, updated_at = now()
		WHERE id = $1 AND paid = FALSE
		RETURNING `+giftColumns+`
	`, giftID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// CancelTx cancels a sender's own gift while it is still pending and unpaid.
func (r *Repository) CancelTx(ctx context.Context, tx pgx.Tx, giftID, senderID uuid.UUID) (bool, error) {
	result, err := tx.Exec(ctx, `
		UPDATE gifts SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND sender_id = $2 AND status = 'pending' AND paid = FALSE
	`, giftID, senderID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ExpireUnpaid marks pending unpaid gifts created before cutoff as expired
// and returns how many were affected.
func (r *Repository) ExpireUnpaid(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE gifts SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND paid = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// EnsurePendingBucketTx get-or-creates the bucket row for an unregistered
// phone number via its unique index, closing the find-then-insert race.
func (r *Repository) EnsurePendingBucketTx(ctx context.Context, tx pgx.Tx, phone string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO pending_gifts (phone) VALUES ($1)
		ON CONFLICT (phone) DO NOTHING
	`, phone)
	return err
}

// ClaimPendingTx resolves all gifts addressed to phone onto userID and
// returns them, inside the caller's transaction.
func (r *Repository) ClaimPendingTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, phone string) ([]*models.Gift, error) {
	rows, err := tx.Query(ctx, `
		UPDATE gifts SET receiver_id = $1, updated_at = now()
		WHERE receiver_phone = $2 AND receiver_id IS NULL
		RETURNING `+giftColumns+`
	`, userID, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Gift
	for rows.Next() {
		g, err := scanGift(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

func (r *Repository) ListForReceiver(ctx context.Context, receiverID uuid.UUID) ([]*models.Gift, error) {
	return r.list(ctx, `SELECT `+giftColumns+` FROM gifts WHERE receiver_id = $1 ORDER BY created_at DESC`, receiverID)
}

func (r *Repository) ListForSender(ctx context.Context, senderID uuid.UUID) ([]*models.Gift, error) {
	return r.list(ctx, `SELECT `+giftColumns+` FROM gifts WHERE sender_id = $1 ORDER BY created_at DESC`, senderID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*models.Gift, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Gift
	for rows.Next() {
		g, err := scanGift(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

// DefaultTarget returns the user's preferred auto-allocation target, empty
// when unset.
func (r *Repository) DefaultTarget(ctx context.Context, userID uuid.UUID) (string, error) {
	var target *string
	err := r.pool.QueryRow(ctx, `
		SELECT default_target_type FROM users WHERE id = $1
	`, userID).Scan(&target)
	if err != nil {
		return "", err
	}
	if target == nil {
		return "", nil
	}
	return *target, nil
}

// --- deferred allocation tasks ---

const taskColumns = `id, gift_id, user_id, active, due_at, run_count, last_error, created_at, updated_at`

// ScheduleTaskTx enqueues the deferred auto-allocation for a gift.
func (r *Repository) ScheduleTaskTx(ctx context.Context, tx pgx.Tx, giftID, userID uuid.UUID, dueAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO allocation_tasks (id, gift_id, user_id, due_at) VALUES ($1, $2, $3, $4)
	`, uuid.New(), giftID, userID, dueAt)
	return err
}

// DueTasks returns active tasks whose due time has passed, oldest first.
func (r *Repository) DueTasks(ctx context.Context, now time.Time, limit int) ([]*models.AllocationTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM allocation_tasks
		WHERE active = TRUE AND due_at <= $1
		ORDER BY due_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AllocationTask
	for rows.Next() {
		var t models.AllocationTask
		if err := rows.Scan(&t.ID, &t.GiftID, &t.UserID, &t.Active, &t.DueAt, &t.RunCount, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// CompleteTask deactivates the task. The row stays as the audit record of the
// automatic conversion.
func (r *Repository) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE allocation_tasks SET active = FALSE, run_count = run_count + 1, last_error = NULL, updated_at = now()
		WHERE id = $1
	`, taskID)
	return err
}

// RescheduleTask pushes the task to a later retry, bumping the run counter
// and recording why this run did not allocate.
func (r *Repository) RescheduleTask(ctx context.Context, taskID uuid.UUID, dueAt time.Time, lastError string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE allocation_tasks SET due_at = $1, run_count = run_count + 1, last_error = $2, updated_at = now()
		WHERE id = $3
	`, dueAt, lastError, taskID)
	return err
}

// DeactivateTasksForGiftTx turns off pending tasks once the gift is fully
// allotted by hand.
func (r *Repository) DeactivateTasksForGiftTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE allocation_tasks SET active = FALSE, updated_at = now()
		WHERE gift_id = $1 AND active = TRUE
	`, giftID)
	return err
}
