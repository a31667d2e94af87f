package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

type Service interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Ledger, error)
	GetTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Ledger, error)
	CreditGift(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, giftID, senderID uuid.UUID) error
	ReserveForWithdrawal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	ReleaseHoldingToUnallotted(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	ReleaseHoldingFinal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	ApplyAllocation(ctx context.Context, tx pgx.Tx, userID uuid.UUID, targetType string, total decimal.Decimal, entries []*models.AllocationEntry) error
	SumAllocationsForGift(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (decimal.Decimal, error)
	SumForGift(ctx context.Context, giftID uuid.UUID) (decimal.Decimal, error)
	MarkReceiptFullyAllocated(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) error
	Allocations(ctx context.Context, userID uuid.UUID) ([]*models.AllocationEntry, error)
	Receipts(ctx context.Context, userID uuid.UUID) ([]*models.GiftReceipt, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

func (s *service) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.repo.Begin(ctx)
}

func (s *service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*models.Ledger, error) {
	return s.repo.GetOrCreate(ctx, userID)
}

func (s *service) GetTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Ledger, error) {
	return s.repo.GetTx(ctx, tx, userID)
}

func (s *service) CreditGift(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, giftID, senderID uuid.UUID) error {
	return s.repo.CreditGift(ctx, tx, userID, amount, giftID, senderID)
}

func (s *service) ReserveForWithdrawal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	return s.repo.ReserveForWithdrawal(ctx, tx, userID, amount)
}

func (s *service) ReleaseHoldingToUnallotted(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	return s.repo.ReleaseHoldingToUnallotted(ctx, tx, userID, amount)
}

func (s *service) ReleaseHoldingFinal(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	return s.repo.ReleaseHoldingFinal(ctx, tx, userID, amount)
}

func (s *service) ApplyAllocation(ctx context.Context, tx pgx.Tx, userID uuid.UUID, targetType string, total decimal.Decimal, entries []*models.AllocationEntry) error {
	return s.repo.ApplyAllocation(ctx, tx, userID, targetType, total, entries)
}

func (s *service) SumAllocationsForGift(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.SumAllocationsForGift(ctx, tx, giftID)
}

func (s *service) SumForGift(ctx context.Context, giftID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.SumForGift(ctx, giftID)
}

func (s *service) MarkReceiptFullyAllocated(ctx context.Context, tx pgx.Tx, giftID uuid.UUID) error {
	return s.repo.MarkReceiptFullyAllocated(ctx, tx, giftID)
}

func (s *service) Allocations(ctx context.Context, userID uuid.UUID) ([]*models.AllocationEntry, error) {
	return s.repo.Allocations(ctx, userID)
}

func (s *service) Receipts(ctx context.Context, userID uuid.UUID) ([]*models.GiftReceipt, error) {
	return s.repo.Receipts(ctx, userID)
}

// ErrInsufficientFunds is returned when the unallotted balance cannot cover a
// reservation or allocation.
var ErrInsufficientFunds = errInsufficientFunds

// ErrHoldingInconsistent signals a broken reservation invariant: the holding
// bucket could not cover a release that a pending request says it should.
// Callers must treat it as an internal error, never a user error.
var ErrHoldingInconsistent = errHoldingInconsistent
