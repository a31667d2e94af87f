package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is a time-boxed gift-collection campaign. Withdrawal by the creator
// is capped at WithdrawalPercentage of the total gift value and only opens
// after EndAt.
type Event struct {
	ID                   uuid.UUID       `json:"id"`
	CreatorID            uuid.UUID       `json:"creator_id"`
	Title                string          `json:"title"`
	StartAt              time.Time       `json:"start_at"`
	EndAt                time.Time       `json:"end_at"`
	WithdrawalPercentage decimal.Decimal `json:"withdrawal_percentage"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Ended reports whether the event's collection window has closed as of now.
func (e *Event) Ended(now time.Time) bool {
	return now.After(e.EndAt)
}

// EventStats are aggregates recomputed on read from the gifts table.
type EventStats struct {
	GiftCount   int             `json:"gift_count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}
