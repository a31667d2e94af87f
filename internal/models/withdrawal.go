package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalRequest status enums.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

// moneyState mirrors where the reserved money currently sits.
const (
	MoneyStateHolding   = "holding"
	MoneyStateWithdrawn = "withdrawn"
	MoneyStateAlloting  = "alloting"
)

// WithdrawalRequest is one request by an event creator to withdraw part of
// the event's gift proceeds. On creation the amount moves unallotted->holding;
// approval removes it from the ledger, rejection returns it.
type WithdrawalRequest struct {
	ID              uuid.UUID       `json:"id"`
	EventID         uuid.UUID       `json:"event_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	MoneyState      string          `json:"money_state"`
	ApprovedBy      *uuid.UUID      `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedBy      *uuid.UUID      `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// KYC status enums.
const (
	KYCPending  = "pending"
	KYCApproved = "approved"
	KYCRejected = "rejected"
)

// KYCRecord is the identity-verification state gating withdrawals.
type KYCRecord struct {
	UserID     uuid.UUID  `json:"user_id"`
	Status     string     `json:"status"`
	DocumentRef string    `json:"document_ref"`
	ReviewedBy *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
