package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

const ledgerColumns = `id, user_id, amount_minor, currency, reference_key, provider, metadata, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create appends one entry. The unique constraint on (provider, reference_key)
// is the at-most-one-credit guarantee; a duplicate surfaces as
// ErrDuplicateReference and callers treat it as already-written.
func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.WalletLedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_ledger_entries (
			id, user_id, amount_minor, currency, reference_key, provider, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.UserID, entry.AmountMinor, entry.Currency,
		entry.ReferenceKey, entry.Provider, entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateReference)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByReference(ctx context.Context, provider, referenceKey string) (*domain.WalletLedgerEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM wallet_ledger_entries
		WHERE provider = $1 AND reference_key = $2`,
		provider, referenceKey,
	)
	entry, err := scanLedgerEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByReference: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByReference: %w", err)
	}
	return entry, nil
}

func (r *LedgerRepository) CountByReference(ctx context.Context, provider, referenceKey string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wallet_ledger_entries WHERE provider = $1 AND reference_key = $2`,
		provider, referenceKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountByReference: %w", err)
	}
	return n, nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.WalletLedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM wallet_ledger_entries
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer rows.Close()

	var entries []domain.WalletLedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByUser: scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: rows: %w", err)
	}
	return entries, nil
}

// BalanceForUser folds the signed entries. The ledger is the source of truth;
// there is no separately stored balance to drift from it.
func (r *LedgerRepository) BalanceForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_minor), 0) FROM wallet_ledger_entries WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("BalanceForUser: %w", err)
	}
	return balance, nil
}

func scanLedgerEntry(s scanner) (*domain.WalletLedgerEntry, error) {
	var e domain.WalletLedgerEntry
	var metadata *[]byte
	err := s.Scan(
		&e.ID, &e.UserID, &e.AmountMinor, &e.Currency,
		&e.ReferenceKey, &e.Provider, &metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		e.Metadata = *metadata
	}
	return &e, nil
}
