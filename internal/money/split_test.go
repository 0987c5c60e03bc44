package money

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name            string
		total           int64
		feeBps          int64
		wantFee         int64
		wantBeneficiary int64
		wantErr         error
	}{
		{
			name:            "rounding remainder goes to beneficiary",
			total:           10001,
			feeBps:          2500,
			wantFee:         2500,
			wantBeneficiary: 7501,
		},
		{
			name:            "default marketplace split 15 percent",
			total:           100000,
			feeBps:          1500,
			wantFee:         15000,
			wantBeneficiary: 85000,
		},
		{
			name:            "zero total",
			total:           0,
			feeBps:          1500,
			wantFee:         0,
			wantBeneficiary: 0,
		},
		{
			name:            "zero fee",
			total:           999,
			feeBps:          0,
			wantFee:         0,
			wantBeneficiary: 999,
		},
		{
			name:            "full fee",
			total:           999,
			feeBps:          10000,
			wantFee:         999,
			wantBeneficiary: 0,
		},
		{
			name:            "one cent at 1 bps floors to zero fee",
			total:           1,
			feeBps:          1,
			wantFee:         0,
			wantBeneficiary: 1,
		},
		{
			name:    "negative total",
			total:   -1,
			feeBps:  1500,
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "total beyond split range",
			total:   math.MaxInt64/10000 + 1,
			feeBps:  1,
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "fee bps over range",
			total:   100,
			feeBps:  10001,
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "negative fee bps",
			total:   100,
			feeBps:  -1,
			wantErr: domain.ErrInvalidRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			split, err := ComputeSplit(tc.total, tc.feeBps)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantFee, split.PlatformFee)
			assert.Equal(t, tc.wantBeneficiary, split.Beneficiary)
			assert.Equal(t, tc.total, split.PlatformFee+split.Beneficiary, "fee + beneficiary must equal total exactly")
		})
	}
}

func TestFloorsEnforce(t *testing.T) {
	floors := Floors{
		"cardpay":  {"ARS": 100, "USD": 100},
		"orderpay": {"USD": 50},
	}

	require.NoError(t, floors.Enforce("cardpay", "ARS", 100))
	require.NoError(t, floors.Enforce("orderpay", "USD", 51))
	require.NoError(t, floors.Enforce("cardpay", "BRL", 1), "unknown currency has no floor")
	require.NoError(t, floors.Enforce("unknown", "USD", 1), "unknown provider has no floor")

	err := floors.Enforce("cardpay", "USD", 99)
	require.ErrorIs(t, err, domain.ErrBelowMinimum)
}
