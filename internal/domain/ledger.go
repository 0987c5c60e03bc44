package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WalletLedgerEntry is one append-only balance-affecting record. ReferenceKey is
// the provider transaction id and is globally unique: at most one entry may ever
// exist per reference, no matter how many times the same capture is observed.
// Corrections are new reversing entries with their own reference, never edits.
type WalletLedgerEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	AmountMinor  int64
	Currency     string
	ReferenceKey string
	Provider     string
	Metadata     json.RawMessage
	CreatedAt    time.Time
}
