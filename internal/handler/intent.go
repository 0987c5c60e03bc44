package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/service"
)

type IntentHandler struct {
	intents *service.IntentService
}

func NewIntentHandler(intents *service.IntentService) *IntentHandler {
	return &IntentHandler{intents: intents}
}

type createIntentRequest struct {
	Kind          string          `json:"kind"`
	Provider      string          `json:"provider"`
	AmountMinor   int64           `json:"amount_minor"`
	SettlementCcy string          `json:"settlement_ccy"`
	PresentedCcy  string          `json:"presented_ccy"`
	UserID        string          `json:"user_id"`
	BookingID     string          `json:"booking_id,omitempty"`
	PayeeRef      string          `json:"payee_ref,omitempty"`
	Description   string          `json:"description,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

func (p createIntentRequest) validate() []FieldError {
	var errs []FieldError

	if !domain.IntentKind(p.Kind).IsValid() {
		errs = append(errs, FieldError{Field: "kind", Message: "must be deposit, booking_charge, preauthorization or withdrawal"})
	}
	if p.Provider == "" {
		errs = append(errs, FieldError{Field: "provider", Message: "required"})
	}
	if p.AmountMinor <= 0 {
		errs = append(errs, FieldError{Field: "amount_minor", Message: "must be greater than zero"})
	}
	if len(p.SettlementCcy) != 3 {
		errs = append(errs, FieldError{Field: "settlement_ccy", Message: "must be a 3-letter currency code"})
	}
	if len(p.PresentedCcy) != 3 {
		errs = append(errs, FieldError{Field: "presented_ccy", Message: "must be a 3-letter currency code"})
	}
	if p.UserID == "" {
		errs = append(errs, FieldError{Field: "user_id", Message: "required"})
	} else if _, err := uuid.Parse(p.UserID); err != nil {
		errs = append(errs, FieldError{Field: "user_id", Message: "must be a valid UUID"})
	}
	if p.BookingID != "" {
		if _, err := uuid.Parse(p.BookingID); err != nil {
			errs = append(errs, FieldError{Field: "booking_id", Message: "must be a valid UUID"})
		}
	}

	return errs
}

type intentResponse struct {
	ID                string          `json:"id"`
	Kind              string          `json:"kind"`
	Provider          string          `json:"provider"`
	ProviderRef       *string         `json:"provider_ref,omitempty"`
	Status            string          `json:"status"`
	FailureCategory   string          `json:"failure_category,omitempty"`
	FailureMessage    string          `json:"failure_message,omitempty"`
	SettlementAmount  int64           `json:"settlement_amount"`
	SettlementCcy     string          `json:"settlement_ccy"`
	PresentedAmount   int64           `json:"presented_amount"`
	PresentedCcy      string          `json:"presented_ccy"`
	ExchangeRate      *string         `json:"exchange_rate,omitempty"`
	Split             bool            `json:"split"`
	PlatformFee       int64           `json:"platform_fee"`
	PayeeRef          *string         `json:"payee_ref,omitempty"`
	UserID            string          `json:"user_id"`
	BookingID         *string         `json:"booking_id,omitempty"`
	ReconcileAttempts int             `json:"reconcile_attempts"`
	NeedsReview       bool            `json:"needs_review"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	TerminalAt        *time.Time      `json:"terminal_at,omitempty"`
}

// intentView flattens an intent for the API. The raw provider detail code is
// never exposed here; failed attempts carry the mapped category and message.
func intentView(i *domain.PaymentIntent) intentResponse {
	resp := intentResponse{
		ID:                i.ID.String(),
		Kind:              string(i.Kind),
		Provider:          i.Provider,
		ProviderRef:       i.ProviderRef,
		Status:            string(i.Status),
		SettlementAmount:  i.SettlementAmount,
		SettlementCcy:     i.SettlementCcy,
		PresentedAmount:   i.PresentedAmount,
		PresentedCcy:      i.PresentedCcy,
		Split:             i.Split,
		PlatformFee:       i.PlatformFee,
		PayeeRef:          i.PayeeRef,
		UserID:            i.UserID.String(),
		ReconcileAttempts: i.ReconcileAttempts,
		NeedsReview:       i.NeedsReview,
		Metadata:          i.Metadata,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
		TerminalAt:        i.TerminalAt,
	}
	if i.ExchangeRate != nil {
		s := i.ExchangeRate.String()
		resp.ExchangeRate = &s
	}
	if i.BookingID != nil {
		s := i.BookingID.String()
		resp.BookingID = &s
	}
	if i.Status == domain.IntentStatusRejected || i.Status == domain.IntentStatusFailed {
		var detail string
		if i.StatusDetail != nil {
			detail = *i.StatusDetail
		}
		category, message := service.CategorizeFailure(detail)
		resp.FailureCategory = string(category)
		resp.FailureMessage = message
	}
	return resp
}

func (h *IntentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var payload createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}
	if fields := payload.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	req := service.CreateIntentRequest{
		Kind:          domain.IntentKind(payload.Kind),
		Provider:      payload.Provider,
		AmountMinor:   payload.AmountMinor,
		SettlementCcy: payload.SettlementCcy,
		PresentedCcy:  payload.PresentedCcy,
		UserID:        uuid.MustParse(payload.UserID),
		Description:   payload.Description,
		Metadata:      payload.Metadata,
	}
	if payload.BookingID != "" {
		id := uuid.MustParse(payload.BookingID)
		req.BookingID = &id
	}
	if payload.PayeeRef != "" {
		req.PayeeRef = &payload.PayeeRef
	}

	intent, err := h.intents.Create(r.Context(), req)
	if err != nil {
		var provErr *domain.ProviderError
		switch {
		case domain.IsTransientProviderError(err) && intent != nil:
			// The charge may or may not exist provider-side; the intent
			// stays non-terminal and the reconciler resolves it.
			RespondAppError(w, ErrProviderUnavailable, intentView(intent))
		case errors.As(err, &provErr) && intent != nil:
			RespondJSON(w, http.StatusUnprocessableEntity, APIResponse{
				Success: false,
				Data:    intentView(intent),
				Error: &APIError{
					Code:    "PAYMENT_REJECTED",
					Message: rejectionMessage(provErr.DetailCode),
				},
			})
		default:
			log.Error("intent creation failed", "error", err)
			RespondDomainError(w, err)
		}
		return
	}

	RespondSuccess(w, http.StatusCreated, intentView(intent))
}

func rejectionMessage(detailCode string) string {
	_, message := service.CategorizeFailure(detailCode)
	return message
}

func (h *IntentHandler) GetIntent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	intent, err := h.intents.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, intentView(intent))
}

func (h *IntentHandler) CaptureIntent(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrInvalidRequest, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	intent, err := h.intents.Capture(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIntentTerminal):
			RespondAppError(w, ErrIntentTerminal, nil)
		case errors.Is(err, domain.ErrInvalidRequest):
			RespondAppError(w, ErrNotCapturable, nil)
		case errors.Is(err, domain.ErrCaptureNotSupported):
			RespondAppError(w, ErrNotCapturable, nil)
		default:
			log.Error("capture failed", "intent_id", id, "error", err)
			RespondDomainError(w, err)
		}
		return
	}
	RespondSuccess(w, http.StatusOK, intentView(intent))
}
