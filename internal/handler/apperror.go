package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount   = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCurrency = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid or unsupported currency"}
	ErrInvalidKind     = &AppError{http.StatusBadRequest, "INVALID_KIND", "Unknown payment intent kind"}
	ErrBelowMinimum    = &AppError{http.StatusUnprocessableEntity, "BELOW_MINIMUM", "Amount is below the provider minimum"}
	ErrStaleRate       = &AppError{http.StatusUnprocessableEntity, "STALE_EXCHANGE_RATE", "No sufficiently fresh exchange rate is available"}
	ErrUnknownProvider = &AppError{http.StatusNotFound, "UNKNOWN_PROVIDER", "Unknown payment provider"}
	ErrIntentTerminal  = &AppError{http.StatusConflict, "INTENT_TERMINAL", "Intent is already in a terminal state"}
	ErrNotCapturable   = &AppError{http.StatusUnprocessableEntity, "NOT_CAPTURABLE", "Intent is not in a capturable state"}

	ErrInvalidSignature = &AppError{http.StatusForbidden, "INVALID_SIGNATURE", "Webhook signature verification failed"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}

	ErrProviderUnavailable = &AppError{http.StatusBadGateway, "PROVIDER_UNAVAILABLE", "The payment provider did not respond, the intent will be reconciled"}
)
