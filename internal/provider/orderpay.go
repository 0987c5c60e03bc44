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

// NameOrderPay identifies the order/capture provider.
const NameOrderPay = "orderpay"

// OrderPay is the order-based provider adapter: an order is created, approved
// by the payer, then captured. Webhooks carry the full resource and are signed
// with an HMAC-SHA256 of the raw body in the x-orderpay-signature header.
type OrderPay struct {
	client        *apiClient
	webhookSecret string
}

func NewOrderPay(baseURL, accessToken, webhookSecret string, timeout time.Duration) *OrderPay {
	return &OrderPay{
		client:        newAPIClient(NameOrderPay, baseURL, accessToken, timeout),
		webhookSecret: webhookSecret,
	}
}

func (p *OrderPay) Name() string { return NameOrderPay }

type orderPayOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (p *OrderPay) CreateCharge(ctx context.Context, spec ChargeSpec) (*domain.ProviderResult, error) {
	intent := "CAPTURE"
	if spec.Preauthorize {
		intent = "AUTHORIZE"
	}
	body := map[string]any{
		"intent":       intent,
		"amount_minor": spec.AmountMinor,
		"currency":     spec.Currency,
		"description":  spec.Description,
		"reference_id": spec.ExternalRef,
	}
	if spec.Split != nil {
		body["platform_fee_minor"] = spec.Split.PlatformFeeMinor
		body["payee_ref"] = spec.Split.PayeeRef
	}

	headers := map[string]string{"OrderPay-Request-Id": spec.IdempotencyKey}

	var resp orderPayOrder
	if err := p.client.doJSON(ctx, http.MethodPost, "/orders", "create", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("CreateCharge: %w", err)
	}
	return p.normalize(resp), nil
}

func (p *OrderPay) GetStatus(ctx context.Context, providerRef string) (*domain.ProviderResult, error) {
	var resp orderPayOrder
	if err := p.client.doJSON(ctx, http.MethodGet, "/orders/"+providerRef, "get_status", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("GetStatus: %w", err)
	}
	return p.normalize(resp), nil
}

func (p *OrderPay) FindByExternalRef(ctx context.Context, externalRef string) (*domain.ProviderResult, error) {
	var resp struct {
		Orders []orderPayOrder `json:"orders"`
	}
	path := "/orders?reference_id=" + url.QueryEscape(externalRef)
	if err := p.client.doJSON(ctx, http.MethodGet, path, "search", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("FindByExternalRef: %w", err)
	}
	if len(resp.Orders) == 0 {
		return nil, fmt.Errorf("FindByExternalRef: %w", domain.ErrNotFound)
	}
	return p.normalize(resp.Orders[0]), nil
}

func (p *OrderPay) Capture(ctx context.Context, providerRef string) (*domain.ProviderResult, error) {
	var resp orderPayOrder
	if err := p.client.doJSON(ctx, http.MethodPost, "/orders/"+providerRef+"/capture", "capture", nil, map[string]any{}, &resp); err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}
	return p.normalize(resp), nil
}

func (p *OrderPay) normalize(resp orderPayOrder) *domain.ProviderResult {
	return &domain.ProviderResult{
		ProviderRef:  resp.ID,
		Status:       mapOrderPayStatus(resp.Status),
		StatusDetail: resp.Reason,
	}
}

func mapOrderPayStatus(s string) domain.ProviderStatus {
	switch s {
	case "CREATED":
		return domain.StatusCreated
	case "PAYER_ACTION_REQUIRED":
		return domain.StatusRequiresAction
	case "APPROVED":
		return domain.StatusAuthorized
	case "COMPLETED":
		return domain.StatusCaptured
	case "DECLINED", "DENIED":
		return domain.StatusRejected
	case "VOIDED":
		return domain.StatusCancelled
	case "REFUNDED":
		return domain.StatusRefunded
	case "DISPUTED":
		return domain.StatusDisputed
	default:
		return domain.StatusUnknown
	}
}

const orderPaySignatureHeader = "x-orderpay-signature"

func (p *OrderPay) VerifyWebhookSignature(headers http.Header, body []byte) error {
	sig := headers.Get(orderPaySignatureHeader)
	if sig == "" {
		return fmt.Errorf("VerifyWebhookSignature: missing %s: %w", orderPaySignatureHeader, domain.ErrSignature)
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return fmt.Errorf("VerifyWebhookSignature: %w", domain.ErrSignature)
	}
	return nil
}

type orderPayWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID      string `json:"id"`
		OrderID string `json:"order_id,omitempty"`
		Status  string `json:"status"`
		Reason  string `json:"reason,omitempty"`
	} `json:"resource"`
}

func (p *OrderPay) ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload orderPayWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("ParseWebhook: %w", domain.ErrInvalidRequest)
	}
	if payload.ID == "" || payload.Resource.ID == "" {
		return nil, fmt.Errorf("ParseWebhook: missing event or resource id: %w", domain.ErrInvalidRequest)
	}

	// Capture events reference the order through resource.order_id.
	ref := payload.Resource.OrderID
	if ref == "" {
		ref = payload.Resource.ID
	}

	return &WebhookEvent{
		EventID:     payload.ID,
		ProviderRef: ref,
		Result: domain.ProviderResult{
			ProviderRef:  ref,
			Status:       mapOrderPayEvent(payload.EventType),
			StatusDetail: payload.Resource.Reason,
		},
	}, nil
}

func mapOrderPayEvent(eventType string) domain.ProviderStatus {
	switch eventType {
	case "CHECKOUT.ORDER.APPROVED":
		return domain.StatusAuthorized
	case "PAYMENT.CAPTURE.COMPLETED":
		return domain.StatusCaptured
	case "PAYMENT.CAPTURE.DECLINED", "PAYMENT.CAPTURE.DENIED":
		return domain.StatusRejected
	case "CHECKOUT.ORDER.VOIDED":
		return domain.StatusCancelled
	case "PAYMENT.CAPTURE.REFUNDED":
		return domain.StatusRefunded
	default:
		return domain.StatusUnknown
	}
}
