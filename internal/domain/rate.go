package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRateSnapshot is a cached quote written by the rate-ingestion job and
// read-only here. Pair is base+quote concatenated, e.g. "USDTARS": Rate quote
// units per base unit.
type ExchangeRateSnapshot struct {
	Pair        string
	Base        string
	Quote       string
	Rate        decimal.Decimal
	Environment string
	CapturedAt  time.Time
}
