package money

import (
	"fmt"
	"math"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

// maxSplitTotal keeps totalMinor * feeBps inside int64.
const maxSplitTotal = math.MaxInt64 / 10000

type Split struct {
	PlatformFee int64
	Beneficiary int64
}

// ComputeSplit divides totalMinor between the platform fee and the beneficiary.
// The fee is floored and the beneficiary takes the remainder, so
// fee + beneficiary == total holds by construction and the rounding cent always
// lands on the beneficiary side.
func ComputeSplit(totalMinor, feeBps int64) (Split, error) {
	if totalMinor < 0 {
		return Split{}, fmt.Errorf("ComputeSplit: %w", domain.ErrInvalidAmount)
	}
	if totalMinor > maxSplitTotal {
		return Split{}, fmt.Errorf("ComputeSplit: total %d exceeds split range: %w", totalMinor, domain.ErrInvalidAmount)
	}
	if feeBps < 0 || feeBps > 10000 {
		return Split{}, fmt.Errorf("ComputeSplit: fee_bps %d out of range: %w", feeBps, domain.ErrInvalidRequest)
	}

	fee := totalMinor * feeBps / 10000
	return Split{
		PlatformFee: fee,
		Beneficiary: totalMinor - fee,
	}, nil
}

// Floors holds per-provider, per-currency minimum transaction amounts in minor
// units. Enforced before any network call is made.
type Floors map[string]map[string]int64

func (f Floors) Enforce(provider, currency string, amountMinor int64) error {
	min, ok := f[provider][currency]
	if !ok {
		return nil
	}
	if amountMinor < min {
		return fmt.Errorf("Enforce: %d %s under %s floor of %d: %w", amountMinor, currency, provider, min, domain.ErrBelowMinimum)
	}
	return nil
}
