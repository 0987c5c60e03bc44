package domain

// ProviderStatus is the internal status vocabulary every vendor status string is
// mapped into at the adapter boundary. Anything the adapter does not recognize
// becomes StatusUnknown, which never advances an intent to a terminal state.
type ProviderStatus string

const (
	StatusCreated        ProviderStatus = "created"
	StatusRequiresAction ProviderStatus = "requires_action"
	StatusAuthorized     ProviderStatus = "authorized"
	StatusCaptured       ProviderStatus = "captured"
	StatusRejected       ProviderStatus = "rejected"
	StatusCancelled      ProviderStatus = "cancelled"
	StatusRefunded       ProviderStatus = "refunded"
	StatusDisputed       ProviderStatus = "disputed"
	StatusUnknown        ProviderStatus = "unknown"
)

// ProviderResult is the normalized outcome of any provider call or webhook.
// StatusDetail carries the vendor free-text reason code verbatim.
type ProviderResult struct {
	ProviderRef  string
	Status       ProviderStatus
	StatusDetail string
}

// FailureCategory is the small user-facing vocabulary failure detail codes are
// mapped into. Raw vendor codes are stored for operators but never shown.
type FailureCategory string

const (
	FailureInsufficientFunds  FailureCategory = "insufficient_funds"
	FailureBadCardData        FailureCategory = "bad_card_data"
	FailureProviderRiskBlock  FailureCategory = "provider_risk_block"
	FailureExpiredOrCancelled FailureCategory = "expired_or_cancelled"
	FailureProviderError      FailureCategory = "provider_error"
)
