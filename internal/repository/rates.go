package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

// RateRepository reads exchange-rate snapshots written by the rate-ingestion
// job. This subsystem never writes them.
type RateRepository struct {
	db *sql.DB
}

func NewRateRepository(db *sql.DB) *RateRepository {
	return &RateRepository{db: db}
}

// Latest returns the most recent snapshot covering base/quote in either
// direction; staleness is the caller's concern.
func (r *RateRepository) Latest(ctx context.Context, base, quote string) (*domain.ExchangeRateSnapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT pair, base_ccy, quote_ccy, rate, environment, captured_at
		FROM exchange_rates
		WHERE (base_ccy = $1 AND quote_ccy = $2) OR (base_ccy = $2 AND quote_ccy = $1)
		ORDER BY captured_at DESC
		LIMIT 1`,
		base, quote,
	)

	var s domain.ExchangeRateSnapshot
	err := row.Scan(&s.Pair, &s.Base, &s.Quote, &s.Rate, &s.Environment, &s.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Latest: no snapshot for %s/%s: %w", base, quote, domain.ErrInvalidCurrency)
	}
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return &s, nil
}
