package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/uberoi/giftledger/internal/ledger"
	"github.com/uberoi/giftledger/internal/models"
)

var (
	// ErrAlreadyFinalized is returned when approving or rejecting a request
	// that has left the pending state; both outcomes are terminal.
	ErrAlreadyFinalized = errors.New("withdrawal request already finalized")
	// ErrReasonRequired is returned when rejecting without a reason.
	ErrReasonRequired = errors.New("rejection reason required")
)

// Workflow executes the reviewer-driven approve/reject state machine. Each
// transition commits the status flip and the holding release in one
// transaction, so a crash cannot strand money in holding with no request
// state pointing at it.
type Workflow struct {
	requests RequestStore
	ledger   HoldLedger
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

func NewWorkflow(requests RequestStore, holdLedger HoldLedger, notifier Notifier, log *slog.Logger) *Workflow {
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{
		requests: requests,
		ledger:   holdLedger,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Approve finalizes the request and removes the reserved money from the
// ledger; the amount is paid out externally.
func (w *Workflow) Approve(ctx context.Context, requestID, approver uuid.UUID) (*models.WithdrawalRequest, error) {
	tx, err := w.requests.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	userID, amount, err := w.requests.MarkApprovedTx(ctx, tx, requestID, approver, w.now())
	if err != nil {
		return nil, w.finalizeError(ctx, requestID, err)
	}
	if err := w.ledger.ReleaseHoldingFinal(ctx, tx, userID, amount); err != nil {
		if errors.Is(err, ledger.ErrHoldingInconsistent) {
			w.log.Error("holding below approved amount, reservation invariant broken",
				"request_id", requestID, "user_id", userID, "amount", amount)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	w.notify(ctx, userID, "withdrawal.approved", requestID, amount.String())
	return w.requests.GetByID(ctx, requestID)
}

// Reject finalizes the request and returns the reserved money to the user's
// unallotted balance. A reason is mandatory.
func (w *Workflow) Reject(ctx context.Context, requestID, rejecter uuid.UUID, reason string) (*models.WithdrawalRequest, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	tx, err := w.requests.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	userID, amount, err := w.requests.MarkRejectedTx(ctx, tx, requestID, rejecter, w.now(), reason)
	if err != nil {
		return nil, w.finalizeError(ctx, requestID, err)
	}
	if err := w.ledger.ReleaseHoldingToUnallotted(ctx, tx, userID, amount); err != nil {
		if errors.Is(err, ledger.ErrHoldingInconsistent) {
			w.log.Error("holding below rejected amount, reservation invariant broken",
				"request_id", requestID, "user_id", userID, "amount", amount)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	w.notify(ctx, userID, "withdrawal.rejected", requestID, reason)
	return w.requests.GetByID(ctx, requestID)
}

// finalizeError distinguishes "no longer pending" from "does not exist" after
// the conditional update matched nothing.
func (w *Workflow) finalizeError(ctx context.Context, requestID uuid.UUID, cause error) error {
	if !errors.Is(cause, pgx.ErrNoRows) {
		return cause
	}
	req, err := w.requests.GetByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("withdrawal request %s: %w", requestID, pgx.ErrNoRows)
	}
	if req.Status != models.WithdrawalPending {
		return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, req.Status)
	}
	return cause
}

func (w *Workflow) notify(ctx context.Context, userID uuid.UUID, kind string, requestID uuid.UUID, detail string) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(ctx, userID, kind, map[string]any{
		"request_id": requestID.String(),
		"detail":     detail,
	})
}
