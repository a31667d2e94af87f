package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

var (
	errInsufficientFunds   = errors.New("insufficient unallotted funds")
	errHoldingInconsistent = errors.New("holding balance inconsistent")
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

const ledgerColumns = `user_id, unallotted, holding, allotted_gold, allotted_stock, created_at, updated_at`

func scanLedger(row pgx.Row) (*models.Ledger, error) {
	var l models.Ledger
	err := row.Scan(&l.UserID, &l.Unallotted, &l.Holding, &l.AllottedGold, &l.AllottedStock, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetOrCreate inserts a zeroed ledger for userID if none exists and returns
// the current row. Concurrent first access is safe: the insert relies on the
// user_id primary key with ON CONFLICT DO NOTHING, never load-then-insert.
func (r *Repository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Ledger, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ledgers (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanLedger(r.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledgers WHERE user_id = $1
	`, userID))
}

// GetTx reads the ledger inside the caller's transaction.
func (r *Repository) GetTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Ledger, error) {
	return scanLedger(tx.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledgers WHERE user_id = $1
	`, userID))
}

// CreditGift adds amount to the receiver's unallotted bucket and appends a
// gift receipt, inside the caller's transaction. The ledger row is created on
// first credit.
func (r *Repository) CreditGift(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, giftID, senderID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledgers (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE ledgers SET unallotted = unallotted + $1, updated_at = now()
		WHERE user_id = $2
	`, amount, userID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO gift_receipts (id, user_id, gift_id, amount, sender_id)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, giftID, amount, senderID)
	return err
}

// ReserveForWithdrawal moves amount unallotted -> holding, guarded server-side
// so two concurrent reservations cannot overdraw the bucket.
func (r *Repository) ReserveForWithdrawal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	result, err := tx.Exec(ctx, `
		UPDATE ledgers SET unallotted = unallotted - $1, holding = holding + $1, updated_at = now()
		WHERE user_id = $2 AND unallotted >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errInsufficientFunds
	}
	return nil
}

// ReleaseHoldingToUnallotted returns reserved money on withdrawal rejection.
// A failed guard here means the reservation invariant was broken upstream.
func (r *Repository) ReleaseHoldingToUnallotted(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	result, err := tx.Exec(ctx, `
		UPDATE ledgers SET holding = holding - $1, unallotted = unallotted + $1, updated_at = now()
		WHERE user_id = $2 AND holding >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errHoldingInconsistent
	}
	return nil
}

// ReleaseHoldingFinal removes reserved money from the ledger on withdrawal
// approval; the amount has been paid out externally.
func (r *Repository) ReleaseHoldingFinal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	result, err := tx.Exec(ctx, `
		UPDATE ledgers SET holding = holding - $1, updated_at = now()
		WHERE user_id = $2 AND holding >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errHoldingInconsistent
	}
	return nil
}

// ApplyAllocation moves total unallotted -> allotted[targetType] in one
// guarded UPDATE and appends the given history entries, all inside the
// caller's transaction. The decrement carries the balance guard, so the check
// happens at commit time and concurrent allocations cannot double-spend. The
// entries' amounts must sum to total; each records the money deducted for one
// gift (or the general pool when GiftID is nil).
func (r *Repository) ApplyAllocation(ctx context.Context, tx pgx.Tx, userID uuid.UUID, targetType string, total decimal.Decimal, entries []*models.AllocationEntry) error {
	result, err := tx.Exec(ctx, `
		UPDATE ledgers SET
			unallotted = unallotted - $1,
			allotted_gold = allotted_gold + CASE WHEN $2 = 'gold' THEN $1 ELSE 0 END,
			allotted_stock = allotted_stock + CASE WHEN $2 = 'stock' THEN $1 ELSE 0 END,
			updated_at = now()
		WHERE user_id = $3 AND unallotted >= $1
	`, total, targetType, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errInsufficientFunds
	}
	for _, entry := range entries {
		err := tx.QueryRow(ctx, `
			INSERT INTO allocation_history (id, user_id, gift_id, amount, target_type, units, price_per_unit, from_type, rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at
		`, entry.ID, entry.UserID, entry.GiftID, entry.Amount, entry.TargetType, entry.Units, entry.PricePerUnit, entry.FromType, entry.Rate).Scan(&entry.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// SumAllocationsForGift totals allocation_history amounts referencing giftID,
// inside the caller's transaction.
func (r *Repository) SumAllocationsForGift(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM allocation_history WHERE gift_id = $1
	`, giftID).Scan(&sum)
	return sum, err
}

// SumForGift is the pool-level variant of SumAllocationsForGift, for callers
// outside a transaction (the auto-allocation sweep recomputes remaining gift
// value from it instead of trusting task state).
func (r *Repository) SumForGift(ctx context.Context, giftID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM allocation_history WHERE gift_id = $1
	`, giftID).Scan(&sum)
	return sum, err
}

// MarkReceiptFullyAllocated flags the gift receipt once the gift's full value
// has been matched by allocations.
func (r *Repository) MarkReceiptFullyAllocated(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE gift_receipts SET is_fully_allocated = TRUE WHERE gift_id = $1
	`, giftID)
	return err
}

// Allocations returns the user's allocation history, newest first.
func (r *Repository) Allocations(ctx context.Context, userID uuid.UUID) ([]*models.AllocationEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, gift_id, amount, target_type, units, price_per_unit, from_type, rate, created_at
		FROM allocation_history WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AllocationEntry
	for rows.Next() {
		var e models.AllocationEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.GiftID, &e.Amount, &e.TargetType, &e.Units, &e.PricePerUnit, &e.FromType, &e.Rate, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// Receipts returns the user's gift history, newest first.
func (r *Repository) Receipts(ctx context.Context, userID uuid.UUID) ([]*models.GiftReceipt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, gift_id, amount, sender_id, is_fully_allocated, received_at
		FROM gift_receipts WHERE user_id = $1 ORDER BY received_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GiftReceipt
	for rows.Next() {
		var g models.GiftReceipt
		if err := rows.Scan(&g.ID, &g.UserID, &g.GiftID, &g.Amount, &g.SenderID, &g.IsFullyAllocated, &g.ReceivedAt); err != nil {
			return nil, err
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}
