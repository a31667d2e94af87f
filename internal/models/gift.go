package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gift status enums.
const (
	GiftStatusPending   = "pending"
	GiftStatusAccepted  = "accepted"
	GiftStatusAllotted  = "allotted"
	GiftStatusExpired   = "expired"
	GiftStatusCancelled = "cancelled"
)

// Gift is a monetary gift from one user to another, optionally collected
// under an event. ReceiverID is nil while the receiver is only known by
// phone number; the gift is claimed when that number registers.
type Gift struct {
	ID            uuid.UUID       `json:"id"`
	SenderID      uuid.UUID       `json:"sender_id"`
	ReceiverID    *uuid.UUID      `json:"receiver_id,omitempty"`
	ReceiverPhone *string         `json:"receiver_phone,omitempty"`
	EventID       *uuid.UUID      `json:"event_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Paid          bool            `json:"paid"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SelfGift reports whether sender and receiver are the same user.
func (g *Gift) SelfGift() bool {
	return g.ReceiverID != nil && *g.ReceiverID == g.SenderID
}

// AllocationTask is a deferred auto-allocation work item for one gift.
// Tasks are deactivated, never deleted, so the automatic-conversion audit
// trail survives.
type AllocationTask struct {
	ID        uuid.UUID  `json:"id"`
	GiftID    uuid.UUID  `json:"gift_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Active    bool       `json:"active"`
	DueAt     time.Time  `json:"due_at"`
	RunCount  int        `json:"run_count"`
	LastError *string    `json:"last_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
