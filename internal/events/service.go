package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

var (
	// ErrInvalidWindow is returned when the event's end does not follow its start.
	ErrInvalidWindow = errors.New("event end must be after start")
	// ErrInvalidPercentage is returned when the withdrawal cap is outside 0-100.
	ErrInvalidPercentage = errors.New("withdrawal percentage must be between 0 and 100")
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, creatorID uuid.UUID, title string, startAt, endAt time.Time, withdrawalPercentage decimal.Decimal) (*models.Event, error) {
	if !endAt.After(startAt) {
		return nil, ErrInvalidWindow
	}
	if withdrawalPercentage.IsNegative() || withdrawalPercentage.GreaterThan(hundred) {
		return nil, ErrInvalidPercentage
	}
	e := &models.Event{
		ID:                   uuid.New(),
		CreatorID:            creatorID,
		Title:                title,
		StartAt:              startAt,
		EndAt:                endAt,
		WithdrawalPercentage: withdrawalPercentage,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Event, error) {
	return s.repo.ListByCreator(ctx, creatorID)
}

func (s *Service) Stats(ctx context.Context, eventID uuid.UUID) (*models.EventStats, error) {
	return s.repo.Stats(ctx, eventID)
}

// Cap returns the maximum total the creator may ever withdraw from the event:
// collected proceeds times the event's percentage.
func Cap(totalAmount, percentage decimal.Decimal) decimal.Decimal {
	return totalAmount.Mul(percentage).Div(hundred)
}
