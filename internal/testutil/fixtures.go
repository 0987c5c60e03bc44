package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

var (
	RenterID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	OwnerID  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// NewIntent builds an in-memory intent for tests that fake their storage.
func NewIntent(provider, providerRef string, status domain.IntentStatus) *domain.PaymentIntent {
	now := time.Now().UTC()
	return &domain.PaymentIntent{
		ID:               uuid.New(),
		Kind:             domain.IntentKindDeposit,
		Provider:         provider,
		ProviderRef:      &providerRef,
		Status:           status,
		SettlementAmount: 10_000,
		SettlementCcy:    "USD",
		PresentedAmount:  10_000,
		PresentedCcy:     "USD",
		UserID:           RenterID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// SeedIntent inserts a payment intent, applying mutators so tests can tweak
// individual fields without repeating the whole struct.
func SeedIntent(t *testing.T, db *sql.DB, mutate ...func(*domain.PaymentIntent)) *domain.PaymentIntent {
	t.Helper()

	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		ID:               uuid.New(),
		Kind:             domain.IntentKindDeposit,
		Provider:         "cardpay",
		Status:           domain.IntentStatusCreated,
		SettlementAmount: 10_000,
		SettlementCcy:    "USD",
		PresentedAmount:  10_000,
		PresentedCcy:     "USD",
		UserID:           RenterID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, m := range mutate {
		m(intent)
	}

	_, err := db.Exec(
		`INSERT INTO payment_intents (
			id, kind, provider, provider_ref, status, status_detail,
			settlement_amount, settlement_ccy, presented_amount, presented_ccy, exchange_rate,
			split, platform_fee, payee_ref, user_id, booking_id,
			reconcile_attempts, needs_review, metadata, created_at, updated_at, terminal_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)`,
		intent.ID, intent.Kind, intent.Provider, intent.ProviderRef, intent.Status, intent.StatusDetail,
		intent.SettlementAmount, intent.SettlementCcy, intent.PresentedAmount, intent.PresentedCcy, intent.ExchangeRate,
		intent.Split, intent.PlatformFee, intent.PayeeRef, intent.UserID, intent.BookingID,
		intent.ReconcileAttempts, intent.NeedsReview, intent.Metadata, intent.CreatedAt, intent.UpdatedAt, intent.TerminalAt,
	)
	if err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return intent
}

func WithProviderRef(ref string) func(*domain.PaymentIntent) {
	return func(i *domain.PaymentIntent) { i.ProviderRef = &ref }
}

func WithStatus(s domain.IntentStatus) func(*domain.PaymentIntent) {
	return func(i *domain.PaymentIntent) { i.Status = s }
}

func WithCreatedAt(at time.Time) func(*domain.PaymentIntent) {
	return func(i *domain.PaymentIntent) {
		i.CreatedAt = at
		i.UpdatedAt = at
	}
}

// SeedRate stores an exchange rate snapshot for the pair base/quote.
func SeedRate(t *testing.T, db *sql.DB, base, quote string, rate string, capturedAt time.Time) {
	t.Helper()

	r, err := decimal.NewFromString(rate)
	if err != nil {
		t.Fatalf("parse rate %q: %v", rate, err)
	}
	_, err = db.Exec(
		`INSERT INTO exchange_rates (pair, base_ccy, quote_ccy, rate, environment, captured_at)
		VALUES ($1, $2, $3, $4, 'test', $5)`,
		base+quote, base, quote, r, capturedAt,
	)
	if err != nil {
		t.Fatalf("seed rate %s/%s: %v", base, quote, err)
	}
}

func CountLedgerEntries(t *testing.T, db *sql.DB, provider, referenceKey string) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM wallet_ledger_entries WHERE provider = $1 AND reference_key = $2`,
		provider, referenceKey,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for %s/%s: %v", provider, referenceKey, err)
	}
	return count
}

func GetIntentStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.IntentStatus {
	t.Helper()

	var status domain.IntentStatus
	if err := db.QueryRow(`SELECT status FROM payment_intents WHERE id = $1`, id).Scan(&status); err != nil {
		t.Fatalf("get intent status %s: %v", id, err)
	}
	return status
}
