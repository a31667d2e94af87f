package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/events"
	"github.com/uberoi/giftledger/internal/ledger"
	"github.com/uberoi/giftledger/internal/models"
)

var (
	// ErrKycNotApproved gates withdrawal on identity verification.
	ErrKycNotApproved = errors.New("kyc not approved")
	// ErrEventNotEnded is returned while the event is still collecting.
	ErrEventNotEnded = errors.New("event has not ended")
	// ErrGiftsAlreadyAllotted is returned once any gift under the event has
	// been converted; withdrawal requires a fully unconverted pool.
	ErrGiftsAlreadyAllotted = errors.New("event gifts already allotted")
	// ErrAmountExceedsAvailable is returned when the request breaks the cap.
	ErrAmountExceedsAvailable = errors.New("amount exceeds available withdrawal")
	// ErrInsufficientLedgerBalance is returned when the creator's unallotted
	// balance cannot back the reservation.
	ErrInsufficientLedgerBalance = errors.New("insufficient ledger balance")
	// ErrInvalidAmount is returned for non-positive request amounts.
	ErrInvalidAmount = errors.New("withdrawal amount must be positive")
	// ErrNotEventCreator rejects requests from anyone but the event's creator;
	// only the creator owns the collected pool.
	ErrNotEventCreator = errors.New("only the event creator can request withdrawal")
)

// KYCChecker is the identity-verification collaborator.
type KYCChecker interface {
	IsApproved(ctx context.Context, userID uuid.UUID) (bool, error)
}

// EventStore resolves events and their recomputed stats.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	Stats(ctx context.Context, eventID uuid.UUID) (*models.EventStats, error)
}

// RequestStore is the repository surface the controller and workflow use.
type RequestStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, w *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.WithdrawalRequest, error)
	SumActiveForEvent(ctx context.Context, eventID uuid.UUID) (decimal.Decimal, error)
	HasAllottedGift(ctx context.Context, eventID uuid.UUID) (bool, error)
	MarkApprovedTx(ctx context.Context, tx pgx.Tx, id, approver uuid.UUID, at time.Time) (uuid.UUID, decimal.Decimal, error)
	MarkRejectedTx(ctx context.Context, tx pgx.Tx, id, rejecter uuid.UUID, at time.Time, reason string) (uuid.UUID, decimal.Decimal, error)
}

// HoldLedger is the slice of the ledger service that backs reservations.
type HoldLedger interface {
	ReserveForWithdrawal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	ReleaseHoldingToUnallotted(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	ReleaseHoldingFinal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
}

// Notifier dispatches best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind string, payload any)
}

// Controller enforces the withdrawable cap for events and creates requests.
// Withdrawal is blocked outright once any gift in the event is allotted; the
// pool must be entirely unconverted. That is a deliberate business rule, not
// an optimization.
type Controller struct {
	requests RequestStore
	events   EventStore
	ledger   HoldLedger
	kyc      KYCChecker
	log      *slog.Logger
	now      func() time.Time
}

func NewController(requests RequestStore, eventStore EventStore, holdLedger HoldLedger, kyc KYCChecker, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		requests: requests,
		events:   eventStore,
		ledger:   holdLedger,
		kyc:      kyc,
		log:      log,
		now:      time.Now,
	}
}

// Available returns the amount the event's creator can still request:
// cap minus everything pending or approved, floored at zero.
func (c *Controller) Available(ctx context.Context, event *models.Event) (decimal.Decimal, error) {
	stats, err := c.events.Stats(ctx, event.ID)
	if err != nil {
		return decimal.Zero, err
	}
	cap := events.Cap(stats.TotalAmount, event.WithdrawalPercentage)
	used, err := c.requests.SumActiveForEvent(ctx, event.ID)
	if err != nil {
		return decimal.Zero, err
	}
	available := cap.Sub(used)
	if available.IsNegative() {
		return decimal.Zero, nil
	}
	return available, nil
}

// AvailableForEvent looks up the event and reports its remaining headroom.
func (c *Controller) AvailableForEvent(ctx context.Context, eventID uuid.UUID) (decimal.Decimal, error) {
	event, err := c.events.GetByID(ctx, eventID)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Available(ctx, event)
}

// CreateRequest runs the gate sequence and, on success, reserves the money
// and records the pending request in one transaction.
func (c *Controller) CreateRequest(ctx context.Context, eventID, userID uuid.UUID, amount decimal.Decimal) (*models.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	event, err := c.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if userID != event.CreatorID {
		return nil, ErrNotEventCreator
	}

	approved, err := c.kyc.IsApproved(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, ErrKycNotApproved
	}
	if !event.Ended(c.now()) {
		return nil, ErrEventNotEnded
	}
	allotted, err := c.requests.HasAllottedGift(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if allotted {
		return nil, ErrGiftsAlreadyAllotted
	}
	available, err := c.Available(ctx, event)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		return nil, fmt.Errorf("%w: available %s, requested %s", ErrAmountExceedsAvailable, available, amount)
	}

	tx, err := c.requests.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// The atomic guard inside the reservation is the real defense; the cap
	// check above can be stale by the time this commits.
	if err := c.ledger.ReserveForWithdrawal(ctx, tx, userID, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, fmt.Errorf("%w: requested %s", ErrInsufficientLedgerBalance, amount)
		}
		return nil, err
	}
	req := &models.WithdrawalRequest{
		ID:         uuid.New(),
		EventID:    eventID,
		UserID:     userID,
		Amount:     amount,
		Status:     models.WithdrawalPending,
		MoneyState: models.MoneyStateHolding,
	}
	if err := c.requests.CreateTx(ctx, tx, req); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Controller) Get(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return c.requests.GetByID(ctx, id)
}

func (c *Controller) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return c.requests.ListByEvent(ctx, eventID)
}
