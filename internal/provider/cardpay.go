package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
)

// NameCardPay identifies the card preauthorization/capture provider.
const NameCardPay = "cardpay"

// CardPay is the card-charge provider adapter. The vendor speaks in payment
// objects with a status plus a free-text status_detail, signs webhooks with an
// x-signature header of the form "ts=<unix>,v1=<hmac hex>" over the manifest
// "id:{payment_id};request-id:{request_id};ts:{ts};", and honors an
// X-Idempotency-Key request header on charge creation.
type CardPay struct {
	client        *apiClient
	webhookSecret string
}

func NewCardPay(baseURL, accessToken, webhookSecret string, timeout time.Duration) *CardPay {
	return &CardPay{
		client:        newAPIClient(NameCardPay, baseURL, accessToken, timeout),
		webhookSecret: webhookSecret,
	}
}

func (p *CardPay) Name() string { return NameCardPay }

type cardPayPayment struct {
	ID           json.Number `json:"id"`
	Status       string      `json:"status"`
	StatusDetail string      `json:"status_detail"`
}

func (p *CardPay) CreateCharge(ctx context.Context, spec ChargeSpec) (*domain.ProviderResult, error) {
	body := map[string]any{
		"amount":             spec.AmountMinor,
		"currency":           spec.Currency,
		"description":        spec.Description,
		"external_reference": spec.ExternalRef,
		"capture":            !spec.Preauthorize,
	}
	if spec.Split != nil {
		body["collector_ref"] = spec.Split.PayeeRef
		body["marketplace_fee"] = spec.Split.PlatformFeeMinor
	}

	headers := map[string]string{"X-Idempotency-Key": spec.IdempotencyKey}

	var resp cardPayPayment
	if err := p.client.doJSON(ctx, http.MethodPost, "/payments", "create", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("CreateCharge: %w", err)
	}
	return p.normalize(resp), nil
}

func (p *CardPay) GetStatus(ctx context.Context, providerRef string) (*domain.ProviderResult, error) {
	var resp cardPayPayment
	if err := p.client.doJSON(ctx, http.MethodGet, "/payments/"+providerRef, "get_status", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}
	return p.normalize(resp), nil
}

func (p *CardPay) FindByExternalRef(ctx context.Context, externalRef string) (*domain.ProviderResult, error) {
	var resp struct {
		Results []cardPayPayment `json:"results"`
	}
	path := "/payments/search?external_reference=" + url.QueryEscape(externalRef)
	if err := p.client.doJSON(ctx, http.MethodGet, path, "search", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("FindByExternalRef: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("FindByExternalRef: %w", domain.ErrNotFound)
	}
	return p.normalize(resp.Results[0]), nil
}

func (p *CardPay) Capture(ctx context.Context, providerRef string) (*domain.ProviderResult, error) {
	body := map[string]any{"capture": true}
	var resp cardPayPayment
	if err := p.client.doJSON(ctx, http.MethodPut, "/payments/"+providerRef, "capture", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}
	return p.normalize(resp), nil
}

func (p *CardPay) normalize(resp cardPayPayment) *domain.ProviderResult {
	return &domain.ProviderResult{
		ProviderRef:  resp.ID.String(),
		Status:       mapCardPayStatus(resp.Status),
		StatusDetail: resp.StatusDetail,
	}
}

func mapCardPayStatus(s string) domain.ProviderStatus {
	switch s {
	case "approved":
		return domain.StatusCaptured
	case "authorized":
		return domain.StatusAuthorized
	case "pending":
		return domain.StatusRequiresAction
	case "in_process":
		return domain.StatusCreated
	case "rejected":
		return domain.StatusRejected
	case "cancelled":
		return domain.StatusCancelled
	case "refunded":
		return domain.StatusRefunded
	case "charged_back", "in_mediation":
		return domain.StatusDisputed
	default:
		return domain.StatusUnknown
	}
}

type cardPayWebhook struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// VerifyWebhookSignature checks the ts/v1 signature over the vendor manifest.
// The manifest includes the payment id from the body, so the body is parsed
// here as part of verification.
func (p *CardPay) VerifyWebhookSignature(headers http.Header, body []byte) error {
	sig := headers.Get("x-signature")
	requestID := headers.Get("x-request-id")
	if sig == "" {
		return fmt.Errorf("VerifyWebhookSignature: missing x-signature: %w", domain.ErrSignature)
	}

	var ts, v1 string
	for _, part := range strings.Split(sig, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("VerifyWebhookSignature: malformed x-signature: %w", domain.ErrSignature)
	}

	var payload cardPayWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("VerifyWebhookSignature: parse body: %w", domain.ErrSignature)
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", payload.Data.ID.String(), requestID, ts)
	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return fmt.Errorf("VerifyWebhookSignature: %w", domain.ErrSignature)
	}
	return nil
}

// ParseWebhook extracts the event. CardPay webhooks only announce that a
// payment changed; the status comes back as StatusUnknown and callers fetch
// ground truth with GetStatus.
func (p *CardPay) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload cardPayWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("ParseWebhook: %w", domain.ErrInvalidRequest)
	}
	if payload.Type != "payment" || payload.Data.ID.String() == "" {
		return nil, fmt.Errorf("ParseWebhook: unsupported payload: %w", domain.ErrInvalidRequest)
	}
	return &WebhookEvent{
		EventID:     payload.ID.String(),
		ProviderRef: payload.Data.ID.String(),
		Result: domain.ProviderResult{
			ProviderRef: payload.Data.ID.String(),
			Status:      domain.StatusUnknown,
		},
	}, nil
}
