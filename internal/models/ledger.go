package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation target types.
const (
	TargetGold  = "gold"
	TargetStock = "stock"
)

// ValidTarget reports whether t is a known allocation target.
func ValidTarget(t string) bool {
	return t == TargetGold || t == TargetStock
}

// Ledger is the per-user balance record. All amounts are INR. Money only
// moves between the three buckets; it leaves the ledger only through an
// approved withdrawal.
type Ledger struct {
	UserID        uuid.UUID       `json:"user_id"`
	Unallotted    decimal.Decimal `json:"unallotted"`
	Holding       decimal.Decimal `json:"holding"`
	AllottedGold  decimal.Decimal `json:"allotted_gold"`
	AllottedStock decimal.Decimal `json:"allotted_stock"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Total returns the sum of all buckets.
func (l *Ledger) Total() decimal.Decimal {
	return l.Unallotted.Add(l.Holding).Add(l.AllottedGold).Add(l.AllottedStock)
}

// AllocationEntry is an append-only record of one money-to-asset conversion.
type AllocationEntry struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	GiftID       *uuid.UUID      `json:"gift_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	TargetType   string          `json:"target_type"`
	Units        decimal.Decimal `json:"units"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	FromType     string          `json:"from_type"`
	Rate         decimal.Decimal `json:"rate"`
	CreatedAt    time.Time       `json:"created_at"`
}

// GiftReceipt is an append-only record of gift value credited to a ledger.
type GiftReceipt struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	GiftID           uuid.UUID       `json:"gift_id"`
	Amount           decimal.Decimal `json:"amount"`
	SenderID         uuid.UUID       `json:"sender_id"`
	IsFullyAllocated bool            `json:"is_fully_allocated"`
	ReceivedAt       time.Time       `json:"received_at"`
}
