package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrInvalidKind          = errors.New("invalid intent kind")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrStaleRate            = errors.New("exchange rate snapshot is stale")
	ErrBelowMinimum         = errors.New("amount below provider minimum")
	ErrSignature            = errors.New("webhook signature verification failed")
	ErrIntentTerminal       = errors.New("intent already in terminal state")
	ErrDuplicateReference   = errors.New("duplicate provider reference")
	ErrProviderRefAssigned  = errors.New("provider reference already assigned")
	ErrCaptureNotSupported  = errors.New("provider does not support two-phase capture")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
)

// ProviderError wraps a non-2xx or malformed provider response. Transient errors
// are retried with backoff; permanent ones (declines, bad card data) surface
// immediately with their vendor detail code intact.
type ProviderError struct {
	Provider   string
	StatusCode int
	DetailCode string
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.DetailCode)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransientProviderError reports whether err is a provider error worth
// retrying (timeouts, 5xx, 429).
func IsTransientProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
