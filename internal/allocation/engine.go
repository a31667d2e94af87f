package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/ledger"
	"github.com/uberoi/giftledger/internal/models"
	"github.com/uberoi/giftledger/internal/pricing"
)

var (
	// ErrInvalidTargetType is returned for targets other than gold/stock.
	ErrInvalidTargetType = errors.New("invalid target type")
	// ErrInvalidAmount is returned for non-positive allocation amounts.
	ErrInvalidAmount = errors.New("allocation amount must be positive")
	// ErrInsufficientUnallotted is returned when the unallotted balance cannot
	// cover the requested amount at commit time.
	ErrInsufficientUnallotted = errors.New("insufficient unallotted funds")
	// ErrGiftNotFound is returned when the gift is missing or belongs to
	// another receiver.
	ErrGiftNotFound = errors.New("gift not found")
	// ErrGiftPaymentPending is returned when allocating against a gift whose
	// payment has not cleared.
	ErrGiftPaymentPending = errors.New("gift payment pending")
)

// LedgerStore is the slice of the ledger service the engine needs.
type LedgerStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Ledger, error)
	ApplyAllocation(ctx context.Context, tx pgx.Tx, userID uuid.UUID, targetType string, total decimal.Decimal, entries []*models.AllocationEntry) error
	SumAllocationsForGift(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (decimal.Decimal, error)
	MarkReceiptFullyAllocated(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) error
}

// GiftStore is the slice of the gift repository the engine needs.
type GiftStore interface {
	GetForReceiverTx(ctx context.Context, tx pgx.Tx, giftID, receiverID uuid.UUID) (*models.Gift, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID, status string) error
	DeactivateTasksForGiftTx(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) error
}

// Result is the outcome of a successful allocation: the history entries
// written and the ledger as of the commit.
type Result struct {
	Entries []*models.AllocationEntry
	Ledger  *models.Ledger
}

// Engine converts unallotted money into priced units. Every conversion is one
// transaction: the guarded balance decrement, the history append, and any
// gift status transition commit together or not at all.
type Engine struct {
	ledger LedgerStore
	gifts  GiftStore
	oracle pricing.Oracle
	log    *slog.Logger
}

func NewEngine(ledger LedgerStore, gifts GiftStore, oracle pricing.Oracle, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{ledger: ledger, gifts: gifts, oracle: oracle, log: log}
}

// Allocate converts amount INR of userID's unallotted money into targetType
// units at the oracle's current price. When giftID is set the allocation
// counts toward that gift: the gift must be receivable by userID and, unless
// it is a self-gift, paid. The gift moves to accepted on a partial allocation
// and to allotted once cumulative allocations reach its full value.
func (e *Engine) Allocate(ctx context.Context, userID uuid.UUID, targetType string, amount decimal.Decimal, giftID *uuid.UUID) (*Result, error) {
	var giftIDs []uuid.UUID
	if giftID != nil {
		giftIDs = []uuid.UUID{*giftID}
	}
	return e.allocate(ctx, userID, targetType, amount, giftIDs)
}

// AllocateBulk converts one amount shared equally across the given gifts in a
// single ledger mutation; each gift's cumulative-allocated check then runs
// independently.
func (e *Engine) AllocateBulk(ctx context.Context, userID uuid.UUID, targetType string, amount decimal.Decimal, giftIDs []uuid.UUID) (*Result, error) {
	if len(giftIDs) == 0 {
		return nil, ErrGiftNotFound
	}
	return e.allocate(ctx, userID, targetType, amount, giftIDs)
}

func (e *Engine) allocate(ctx context.Context, userID uuid.UUID, targetType string, amount decimal.Decimal, giftIDs []uuid.UUID) (*Result, error) {
	if !models.ValidTarget(targetType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetType, targetType)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	price, err := e.oracle.CurrentPrice(ctx, targetType)
	if err != nil {
		return nil, err
	}

	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	gifts := make([]*models.Gift, 0, len(giftIDs))
	for _, id := range giftIDs {
		g, err := e.gifts.GetForReceiverTx(ctx, tx, id, userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", ErrGiftNotFound, id)
			}
			return nil, err
		}
		if !g.Paid && !g.SelfGift() {
			return nil, fmt.Errorf("%w: gift %s", ErrGiftPaymentPending, id)
		}
		gifts = append(gifts, g)
	}

	entries := buildEntries(userID, targetType, amount, price, giftIDs)
	if err := e.ledger.ApplyAllocation(ctx, tx, userID, targetType, amount, entries); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return nil, e.insufficientError(ctx, tx, userID, amount)
		}
		return nil, err
	}

	for _, g := range gifts {
		if err := e.settleGiftStatus(ctx, tx, g); err != nil {
			return nil, err
		}
	}

	snapshot, err := e.ledger.GetTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Result{Entries: entries, Ledger: snapshot}, nil
}

// buildEntries splits amount across the gifts (equal shares, remainder on the
// last so the entries sum exactly to amount) and prices each share. A nil or
// empty gift list yields a single pool entry.
func buildEntries(userID uuid.UUID, targetType string, amount, price decimal.Decimal, giftIDs []uuid.UUID) []*models.AllocationEntry {
	newEntry := func(giftID *uuid.UUID, share decimal.Decimal) *models.AllocationEntry {
		return &models.AllocationEntry{
			ID:           uuid.New(),
			UserID:       userID,
			GiftID:       giftID,
			Amount:       share,
			TargetType:   targetType,
			Units:        share.Div(price),
			PricePerUnit: price,
			FromType:     "money",
			Rate:         decimal.NewFromInt(1),
		}
	}
	if len(giftIDs) == 0 {
		return []*models.AllocationEntry{newEntry(nil, amount)}
	}
	n := decimal.NewFromInt(int64(len(giftIDs)))
	share := amount.Div(n).RoundDown(2)
	entries := make([]*models.AllocationEntry, 0, len(giftIDs))
	remaining := amount
	for i := range giftIDs {
		part := share
		if i == len(giftIDs)-1 {
			part = remaining
		}
		id := giftIDs[i]
		entries = append(entries, newEntry(&id, part))
		remaining = remaining.Sub(part)
	}
	return entries
}

// settleGiftStatus recomputes the gift's cumulative allocated amount and
// advances pending->accepted->allotted; on full coverage the receipt is
// flagged and any pending auto-allocation task is deactivated.
func (e *Engine) settleGiftStatus(ctx context.Context, tx pgx.Tx, g *models.Gift) error {
	allocated, err := e.ledger.SumAllocationsForGift(ctx, tx, g.ID)
	if err != nil {
		return err
	}
	if allocated.GreaterThanOrEqual(g.Amount) {
		if err := e.gifts.UpdateStatusTx(ctx, tx, g.ID, models.GiftStatusAllotted); err != nil {
			return err
		}
		if err := e.ledger.MarkReceiptFullyAllocated(ctx, tx, g.ID); err != nil {
			return err
		}
		return e.gifts.DeactivateTasksForGiftTx(ctx, tx, g.ID)
	}
	if g.Status == models.GiftStatusPending {
		return e.gifts.UpdateStatusTx(ctx, tx, g.ID, models.GiftStatusAccepted)
	}
	return nil
}

// insufficientError reads the live balance inside the transaction so the
// caller sees available vs requested.
func (e *Engine) insufficientError(ctx context.Context, tx pgx.Tx, userID uuid.UUID, requested decimal.Decimal) error {
	l, err := e.ledger.GetTx(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("%w: requested %s", ErrInsufficientUnallotted, requested)
	}
	return fmt.Errorf("%w: available %s, requested %s", ErrInsufficientUnallotted, l.Unallotted, requested)
}
