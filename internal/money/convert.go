package money

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

// Convert turns amountMinor from one currency into the other side of the
// snapshot's pair. Integer in, integer out; rounding happens once, half-up, on
// the final operation. A snapshot older than maxAge is rejected outright: stale
// rates are a configuration fault, never something to convert with silently.
func Convert(amountMinor int64, from, to string, snap *domain.ExchangeRateSnapshot, now time.Time, maxAge time.Duration) (int64, error) {
	if amountMinor <= 0 {
		return 0, fmt.Errorf("Convert: %w", domain.ErrInvalidAmount)
	}
	if from == to {
		return amountMinor, nil
	}
	if snap == nil {
		return 0, fmt.Errorf("Convert: no snapshot for %s/%s: %w", from, to, domain.ErrInvalidCurrency)
	}
	if now.Sub(snap.CapturedAt) > maxAge {
		return 0, fmt.Errorf("Convert: snapshot %s captured %s: %w", snap.Pair, snap.CapturedAt.Format(time.RFC3339), domain.ErrStaleRate)
	}
	if !snap.Rate.IsPositive() {
		return 0, fmt.Errorf("Convert: non-positive rate for %s: %w", snap.Pair, domain.ErrInvalidCurrency)
	}

	amt := decimal.NewFromInt(amountMinor)

	switch {
	case snap.Base == from && snap.Quote == to:
		// Round half away from zero; amounts are positive so this is half-up.
		return amt.Mul(snap.Rate).Round(0).IntPart(), nil
	case snap.Base == to && snap.Quote == from:
		return amt.DivRound(snap.Rate, 0).IntPart(), nil
	default:
		return 0, fmt.Errorf("Convert: snapshot %s does not cover %s/%s: %w", snap.Pair, from, to, domain.ErrInvalidCurrency)
	}
}
