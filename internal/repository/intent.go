package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

const intentColumns = `id, kind, provider, provider_ref, status, status_detail,
	settlement_amount, settlement_ccy, presented_amount, presented_ccy, exchange_rate,
	split, platform_fee, payee_ref, user_id, booking_id,
	reconcile_attempts, needs_review, metadata, created_at, updated_at, terminal_at`

// terminalSet is the SQL form of domain.TerminalStatuses, kept in one place so
// every conditional update uses the same terminal fence.
var terminalSet = func() string {
	parts := make([]string, len(domain.TerminalStatuses))
	for i, s := range domain.TerminalStatuses {
		parts[i] = "'" + string(s) + "'"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}()

type IntentRepository struct {
	db *sql.DB
}

func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

func (r *IntentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	_, err := r.db.ExecContext(ctx,
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
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *IntentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id,
	)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return intent, nil
}

func (r *IntentRepository) GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.PaymentIntent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE provider = $1 AND provider_ref = $2`,
		provider, providerRef,
	)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByProviderRef: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByProviderRef: %w", err)
	}
	return intent, nil
}

// SetProviderRef assigns the provider-side reference exactly once. A second
// call with a different reference is a programming error surfaced as
// ErrProviderRefAssigned; the same reference is a benign no-op.
func (r *IntentRepository) SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET provider_ref = $1, updated_at = now()
		WHERE id = $2 AND provider_ref IS NULL`,
		providerRef, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("SetProviderRef: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("SetProviderRef: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SetProviderRef: rows affected: %w", err)
	}
	if rows == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("SetProviderRef: %w", err)
		}
		if existing.ProviderRef != nil && *existing.ProviderRef == providerRef {
			return nil
		}
		return fmt.Errorf("SetProviderRef: %w", domain.ErrProviderRefAssigned)
	}
	return nil
}

// UpdateStatusIfNotTerminal is the conditional update serialization point: the
// row only moves if its stored status is still non-terminal, so a duplicated or
// out-of-order observation can never regress a terminal intent.
func (r *IntentRepository) UpdateStatusIfNotTerminal(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.IntentStatus, statusDetail *string, terminalAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payment_intents
		SET status = $1, status_detail = COALESCE($2, status_detail), terminal_at = $3, updated_at = now()
		WHERE id = $4 AND status NOT IN `+terminalSet,
		status, statusDetail, terminalAt, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatusIfNotTerminal: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatusIfNotTerminal: rows affected: %w", err)
	}
	if rows == 0 {
		var current domain.IntentStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM payment_intents WHERE id = $1`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("UpdateStatusIfNotTerminal: %w", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("UpdateStatusIfNotTerminal: %w", err)
		}
		return fmt.Errorf("UpdateStatusIfNotTerminal: status %s: %w", current, domain.ErrIntentTerminal)
	}
	return nil
}

// ListStuck returns non-terminal intents past the grace window that have not
// hit the retry ceiling, oldest first. Skips rows already flagged for review.
func (r *IntentRepository) ListStuck(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		WHERE status NOT IN `+terminalSet+`
		AND created_at < $1
		AND reconcile_attempts < $2
		AND needs_review = false
		ORDER BY created_at
		LIMIT $3`,
		olderThan, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListStuck: %w", err)
	}
	defer rows.Close()

	return collectIntents(rows, "ListStuck")
}

func (r *IntentRepository) IncrementReconcileAttempts(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET reconcile_attempts = reconcile_attempts + 1, updated_at = now()
		WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("IncrementReconcileAttempts: %w", err)
	}
	return nil
}

// FlagNeedsReview parks an intent for operator attention. The verbatim
// provider detail code is kept when present; the reason only fills an empty
// detail.
func (r *IntentRepository) FlagNeedsReview(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_intents SET needs_review = true,
			status_detail = COALESCE(status_detail, $1), updated_at = now()
		WHERE id = $2`,
		reason, id,
	)
	if err != nil {
		return fmt.Errorf("FlagNeedsReview: %w", err)
	}
	return nil
}

// ListCapturedWithoutLedger finds the reconciler's own inconsistency class:
// intents that reached captured but whose ledger write was lost mid-crash.
func (r *IntentRepository) ListCapturedWithoutLedger(ctx context.Context, limit int) ([]domain.PaymentIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents pi
		WHERE pi.status = $1
		AND pi.provider_ref IS NOT NULL
		AND NOT EXISTS (
			SELECT 1 FROM wallet_ledger_entries wle
			WHERE wle.provider = pi.provider AND wle.reference_key = pi.provider_ref
		)
		ORDER BY pi.created_at
		LIMIT $2`,
		domain.IntentStatusCaptured, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ListCapturedWithoutLedger: %w", err)
	}
	defer rows.Close()

	return collectIntents(rows, "ListCapturedWithoutLedger")
}

func collectIntents(rows *sql.Rows, op string) ([]domain.PaymentIntent, error) {
	var intents []domain.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return intents, nil
}

func scanIntent(s scanner) (*domain.PaymentIntent, error) {
	var i domain.PaymentIntent
	var bookingID uuid.NullUUID
	var exchangeRate decimal.NullDecimal
	var metadata *[]byte

	err := s.Scan(
		&i.ID, &i.Kind, &i.Provider, &i.ProviderRef, &i.Status, &i.StatusDetail,
		&i.SettlementAmount, &i.SettlementCcy, &i.PresentedAmount, &i.PresentedCcy, &exchangeRate,
		&i.Split, &i.PlatformFee, &i.PayeeRef, &i.UserID, &bookingID,
		&i.ReconcileAttempts, &i.NeedsReview, &metadata, &i.CreatedAt, &i.UpdatedAt, &i.TerminalAt,
	)
	if err != nil {
		return nil, err
	}

	if bookingID.Valid {
		i.BookingID = &bookingID.UUID
	}
	if exchangeRate.Valid {
		i.ExchangeRate = &exchangeRate.Decimal
	}
	if metadata != nil {
		i.Metadata = *metadata
	}

	return &i, nil
}
