package service

import (
	"strings"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

// failureCategories maps provider detail codes onto the small user-facing
// vocabulary. The raw code is always stored on the intent for operators;
// anything unmapped falls through to the generic category, never hidden.
var failureCategories = map[string]domain.FailureCategory{
	"cc_rejected_insufficient_amount": domain.FailureInsufficientFunds,
	"insufficient_funds":              domain.FailureInsufficientFunds,
	"INSUFFICIENT_FUNDS":              domain.FailureInsufficientFunds,
	"PAYER_CANNOT_PAY":                domain.FailureInsufficientFunds,

	"cc_rejected_bad_filled_card_number":   domain.FailureBadCardData,
	"cc_rejected_bad_filled_date":          domain.FailureBadCardData,
	"cc_rejected_bad_filled_security_code": domain.FailureBadCardData,
	"cc_rejected_bad_filled_other":         domain.FailureBadCardData,
	"cc_rejected_card_expired":             domain.FailureBadCardData,
	"INSTRUMENT_DECLINED":                  domain.FailureBadCardData,

	"cc_rejected_high_risk":          domain.FailureProviderRiskBlock,
	"cc_rejected_blacklist":          domain.FailureProviderRiskBlock,
	"cc_rejected_call_for_authorize": domain.FailureProviderRiskBlock,
	"COMPLIANCE_VIOLATION":           domain.FailureProviderRiskBlock,

	"expired":              domain.FailureExpiredOrCancelled,
	"cancelled":            domain.FailureExpiredOrCancelled,
	"by_payer":             domain.FailureExpiredOrCancelled,
	"cc_rejected_by_payer": domain.FailureExpiredOrCancelled,
	"ORDER_EXPIRED":        domain.FailureExpiredOrCancelled,
	"ORDER_VOIDED":         domain.FailureExpiredOrCancelled,
}

var failureMessages = map[domain.FailureCategory]string{
	domain.FailureInsufficientFunds:  "The payment method has insufficient funds.",
	domain.FailureBadCardData:        "The card details could not be validated.",
	domain.FailureProviderRiskBlock:  "The payment was declined by the provider.",
	domain.FailureExpiredOrCancelled: "The payment expired or was cancelled.",
	domain.FailureProviderError:      "The payment could not be completed. Please try again.",
}

// CategorizeFailure maps a raw provider detail code to its user-facing
// category and message.
func CategorizeFailure(detailCode string) (domain.FailureCategory, string) {
	cat, ok := failureCategories[strings.TrimSpace(detailCode)]
	if !ok {
		cat = domain.FailureProviderError
	}
	return cat, failureMessages[cat]
}
