package gifts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

var (
	// ErrInvalidAmount is returned for non-positive gift values.
	ErrInvalidAmount = errors.New("gift amount must be positive")
	// ErrNoReceiver is returned when neither a receiver id nor a phone number
	// is supplied.
	ErrNoReceiver = errors.New("gift needs a receiver id or phone number")
	// ErrEventClosed is returned when gifting into an event outside its
	// collection window.
	ErrEventClosed = errors.New("event is not collecting gifts")
	// ErrNotCancellable is returned when a gift is past the point of
	// cancellation (paid, or already moved on from pending).
	ErrNotCancellable = errors.New("gift cannot be cancelled")
)

// LedgerStore is the slice of the ledger service the gift lifecycle needs.
type LedgerStore interface {
	CreditGift(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, giftID, senderID uuid.UUID) error
}

// EventStore resolves events for window validation.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Notifier dispatches best-effort notifications; it never reports failure to
// the caller.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind string, payload any)
}

// GiftStore is the repository surface the service uses, narrowed for tests.
type GiftStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.Gift) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Gift, error)
	MarkPaidTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (*models.Gift, error)
	CancelTx(ctx context.Context, tx pgx.Tx, giftID, senderID uuid.UUID) (bool, error)
	EnsurePendingBucketTx(ctx context.Context, tx pgx.Tx, phone string) error
	ClaimPendingTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, phone string) ([]*models.Gift, error)
	ScheduleTaskTx(ctx context.Context, tx pgx.Tx, giftID, userID uuid.UUID, dueAt time.Time) error
	ListForReceiver(ctx context.Context, receiverID uuid.UUID) ([]*models.Gift, error)
	ListForSender(ctx context.Context, senderID uuid.UUID) ([]*models.Gift, error)
}

// Service drives the gift lifecycle: send, payment confirmation (which
// credits the receiver's ledger and schedules the deferred auto-allocation),
// claim on registration, cancel.
type Service struct {
	repo          GiftStore
	ledger        LedgerStore
	events        EventStore
	notifier      Notifier
	allocateDelay time.Duration
	log           *slog.Logger
	now           func() time.Time
}

func NewService(repo GiftStore, ledger LedgerStore, events EventStore, notifier Notifier, allocateDelay time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:          repo,
		ledger:        ledger,
		events:        events,
		notifier:      notifier,
		allocateDelay: allocateDelay,
		log:           log,
		now:           time.Now,
	}
}

// Send creates a pending gift. The receiver is either a registered user or a
// phone-number placeholder whose pending bucket is get-or-created by upsert.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, receiverID *uuid.UUID, receiverPhone *string, amount decimal.Decimal, eventID *uuid.UUID) (*models.Gift, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}
	if receiverID == nil && (receiverPhone == nil || *receiverPhone == "") {
		return nil, ErrNoReceiver
	}
	if eventID != nil {
		ev, err := s.events.GetByID(ctx, *eventID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		if now.Before(ev.StartAt) || !now.Before(ev.EndAt) {
			return nil, ErrEventClosed
		}
	}

	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if receiverID == nil {
		if err := s.repo.EnsurePendingBucketTx(ctx, tx, *receiverPhone); err != nil {
			return nil, err
		}
	}
	g := &models.Gift{
		ID:            uuid.New(),
		SenderID:      senderID,
		ReceiverID:    receiverID,
		ReceiverPhone: receiverPhone,
		EventID:       eventID,
		Amount:        amount,
		Status:        models.GiftStatusPending,
	}
	if err := s.repo.CreateTx(ctx, tx, g); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// MarkPaid handles the trusted payment-boundary event for a gift. The first
// call credits the receiver's ledger and schedules the deferred allocation
// task in the same transaction; replays are no-ops.
func (s *Service) MarkPaid(ctx context.Context, giftID uuid.UUID) (*models.Gift, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	g, err := s.repo.MarkPaidTx(ctx, tx, giftID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		// Replayed callback or unknown gift; GetByID tells them apart.
		return s.repo.GetByID(ctx, giftID)
	}
	// The credit decision uses the receiver as of the flip itself, so a claim
	// that committed since the gift was sent still gets credited here.
	// Receivers known only by phone are credited later, when they register
	// and claim the pending bucket.
	if g.ReceiverID != nil {
		if err := s.credit(ctx, tx, g, *g.ReceiverID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if g.ReceiverID != nil && s.notifier != nil {
		s.notifier.Notify(ctx, *g.ReceiverID, "gift.received", map[string]any{
			"gift_id": g.ID.String(),
			"amount":  g.Amount.String(),
		})
	}
	return g, nil
}

// ClaimPending attaches every gift addressed to phone onto the newly
// registered user and credits the paid ones.
func (s *Service) ClaimPending(ctx context.Context, userID uuid.UUID, phone string) ([]*models.Gift, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	claimed, err := s.repo.ClaimPendingTx(ctx, tx, userID, phone)
	if err != nil {
		return nil, err
	}
	for _, g := range claimed {
		if !g.Paid {
			continue
		}
		if err := s.credit(ctx, tx, g, userID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// credit moves the gift value into the receiver's ledger and queues the
// auto-allocation fallback.
func (s *Service) credit(ctx context.Context, tx pgx.Tx, g *models.Gift, receiverID uuid.UUID) error {
	if err := s.ledger.CreditGift(ctx, tx, receiverID, g.Amount, g.ID, g.SenderID); err != nil {
		return err
	}
	return s.repo.ScheduleTaskTx(ctx, tx, g.ID, receiverID, s.now().Add(s.allocateDelay))
}

// Cancel voids a sender's own unpaid pending gift.
func (s *Service) Cancel(ctx context.Context, giftID, senderID uuid.UUID) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ok, err := s.repo.CancelTx(ctx, tx, giftID, senderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotCancellable
	}
	return tx.Commit(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Gift, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForReceiver(ctx context.Context, receiverID uuid.UUID) ([]*models.Gift, error) {
	return s.repo.ListForReceiver(ctx, receiverID)
}

func (s *Service) ListForSender(ctx context.Context, senderID uuid.UUID) ([]*models.Gift, error) {
	return s.repo.ListForSender(ctx, senderID)
}
