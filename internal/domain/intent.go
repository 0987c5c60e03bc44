package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type IntentKind string

const (
	IntentKindDeposit          IntentKind = "deposit"
	IntentKindBookingCharge    IntentKind = "booking_charge"
	IntentKindPreauthorization IntentKind = "preauthorization"
	IntentKindWithdrawal       IntentKind = "withdrawal"
)

func (k IntentKind) IsValid() bool {
	switch k {
	case IntentKindDeposit, IntentKindBookingCharge, IntentKindPreauthorization, IntentKindWithdrawal:
		return true
	}
	return false
}

type IntentStatus string

const (
	IntentStatusCreated    IntentStatus = "created"
	IntentStatusPending    IntentStatus = "pending"
	IntentStatusAuthorized IntentStatus = "authorized"
	IntentStatusCaptured   IntentStatus = "captured"
	IntentStatusRejected   IntentStatus = "rejected"
	IntentStatusCancelled  IntentStatus = "cancelled"
	IntentStatusExpired    IntentStatus = "expired"
	IntentStatusFailed     IntentStatus = "failed"
)

// TerminalStatuses is the set a conditional status update must never move out of.
var TerminalStatuses = []IntentStatus{
	IntentStatusCaptured,
	IntentStatusRejected,
	IntentStatusCancelled,
	IntentStatusExpired,
	IntentStatusFailed,
}

func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentStatusCaptured, IntentStatusRejected, IntentStatusCancelled, IntentStatusExpired, IntentStatusFailed:
		return true
	}
	return false
}

// PaymentIntent is the unit of reconciliation: one payment attempt against one
// provider, from creation to a terminal state. Amount fields are immutable after
// creation; an amount change (e.g. a booking extension) is a new intent.
type PaymentIntent struct {
	ID                uuid.UUID
	Kind              IntentKind
	Provider          string
	ProviderRef       *string
	Status            IntentStatus
	StatusDetail      *string
	SettlementAmount  int64
	SettlementCcy     string
	PresentedAmount   int64
	PresentedCcy      string
	ExchangeRate      *decimal.Decimal
	Split             bool
	PlatformFee       int64
	PayeeRef          *string
	UserID            uuid.UUID
	BookingID         *uuid.UUID
	ReconcileAttempts int
	NeedsReview       bool
	Metadata          json.RawMessage
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TerminalAt        *time.Time
}
