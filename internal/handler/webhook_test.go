package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/handler"
	"github.com/ecucondorSA/autorenta-payments/internal/provider"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
	"github.com/ecucondorSA/autorenta-payments/internal/testutil"
)

const (
	cardPaySecret  = "cardpay-test-secret"
	orderPaySecret = "orderpay-test-secret"
)

type fakeIntentReader struct {
	byRef map[string]*domain.PaymentIntent
}

func (f *fakeIntentReader) GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.PaymentIntent, error) {
	if i, ok := f.byRef[provider+"/"+providerRef]; ok {
		return i, nil
	}
	return nil, domain.ErrNotFound
}

type fakeOrphanStore struct {
	created []*repository.OrphanWebhook
}

func (f *fakeOrphanStore) Create(ctx context.Context, o *repository.OrphanWebhook) error {
	f.created = append(f.created, o)
	return nil
}

type fakeAdmitter struct {
	seen map[string]bool
}

func (f *fakeAdmitter) Admit(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + "/" + eventID
	if f.seen[key] {
		return false, nil
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[key] = true
	return true, nil
}

type fakeEngine struct {
	applied []domain.ProviderResult
	keys    []string
}

func (f *fakeEngine) Apply(ctx context.Context, intent *domain.PaymentIntent, dedupKey string, result domain.ProviderResult) error {
	f.applied = append(f.applied, result)
	f.keys = append(f.keys, dedupKey)
	return nil
}

type webhookFixture struct {
	intents  *fakeIntentReader
	orphans  *fakeOrphanStore
	admitter *fakeAdmitter
	engine   *fakeEngine
	handler  *handler.WebhookHandler
}

func setupWebhookHandler(t *testing.T, cardPayBaseURL string) *webhookFixture {
	t.Helper()

	registry := provider.NewRegistry(
		provider.NewCardPay(cardPayBaseURL, "token", cardPaySecret, 5*time.Second),
		provider.NewOrderPay("http://orderpay.invalid", "token", orderPaySecret, 5*time.Second),
	)

	fx := &webhookFixture{
		intents:  &fakeIntentReader{byRef: make(map[string]*domain.PaymentIntent)},
		orphans:  &fakeOrphanStore{},
		admitter: &fakeAdmitter{seen: make(map[string]bool)},
		engine:   &fakeEngine{},
	}
	fx.handler = handler.NewWebhookHandler(registry, fx.intents, fx.orphans, fx.admitter, fx.engine)
	return fx
}

func (fx *webhookFixture) post(providerName string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+providerName, bytes.NewReader(body))
	req.SetPathValue("provider", providerName)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	fx.handler.ReceiveProviderWebhook(rec, req)
	return rec
}

func orderPayBody(t *testing.T, eventID, orderID, eventType string) ([]byte, map[string]string) {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":         eventID,
		"event_type": eventType,
		"resource":   map[string]string{"id": orderID, "order_id": orderID},
	})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(orderPaySecret))
	mac.Write(body)
	return body, map[string]string{"x-orderpay-signature": hex.EncodeToString(mac.Sum(nil))}
}

func cardPayBody(t *testing.T, eventID, paymentID string) ([]byte, map[string]string) {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "payment",
		"data": map[string]string{"id": paymentID},
	})
	require.NoError(t, err)

	ts := fmt.Sprintf("%d", time.Now().Unix())
	requestID := "req-1"
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(cardPaySecret))
	mac.Write([]byte(manifest))

	return body, map[string]string{
		"x-signature":  fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))),
		"x-request-id": requestID,
	}
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	fx := setupWebhookHandler(t, "http://cardpay.invalid")

	body, _ := orderPayBody(t, "WH-1", "ORD-1", "PAYMENT.CAPTURE.COMPLETED")
	rec := fx.post("orderpay", body, map[string]string{"x-orderpay-signature": "deadbeef"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fx.engine.applied)
	assert.Empty(t, fx.orphans.created)
}

func TestWebhookUnknownProvider(t *testing.T) {
	fx := setupWebhookHandler(t, "http://cardpay.invalid")

	rec := fx.post("wires-r-us", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookProcessesCaptureEvent(t *testing.T) {
	fx := setupWebhookHandler(t, "http://cardpay.invalid")
	intent := testutil.NewIntent("orderpay", "ORD-2", domain.IntentStatusAuthorized)
	fx.intents.byRef["orderpay/ORD-2"] = intent

	body, headers := orderPayBody(t, "WH-2", "ORD-2", "PAYMENT.CAPTURE.COMPLETED")
	rec := fx.post("orderpay", body, headers)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fx.engine.applied, 1)
	assert.Equal(t, domain.StatusCaptured, fx.engine.applied[0].Status)
	assert.Equal(t, "event:WH-2", fx.engine.keys[0])
}

func TestWebhookDuplicateEventShortCircuits(t *testing.T) {
	fx := setupWebhookHandler(t, "http://cardpay.invalid")
	intent := testutil.NewIntent("orderpay", "ORD-3", domain.IntentStatusAuthorized)
	fx.intents.byRef["orderpay/ORD-3"] = intent

	body, headers := orderPayBody(t, "WH-3", "ORD-3", "PAYMENT.CAPTURE.COMPLETED")

	first := fx.post("orderpay", body, headers)
	assert.Equal(t, http.StatusOK, first.Code)

	second := fx.post("orderpay", body, headers)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "already_processed")
	assert.Len(t, fx.engine.applied, 1)
}

func TestWebhookOrphanedWhenIntentMissing(t *testing.T) {
	fx := setupWebhookHandler(t, "http://cardpay.invalid")

	body, headers := orderPayBody(t, "WH-4", "ORD-unseen", "CHECKOUT.ORDER.APPROVED")
	rec := fx.post("orderpay", body, headers)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted")
	require.Len(t, fx.orphans.created, 1)
	assert.Equal(t, "ORD-unseen", fx.orphans.created[0].ProviderRef)
	assert.Empty(t, fx.engine.applied)
}

func TestWebhookNotificationOnlyFetchesGroundTruth(t *testing.T) {
	// cardpay webhooks carry no status; the handler must look it up.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/777", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 777, "status": "approved", "status_detail": "accredited"}`)
	}))
	defer srv.Close()

	fx := setupWebhookHandler(t, srv.URL)
	intent := testutil.NewIntent("cardpay", "777", domain.IntentStatusPending)
	fx.intents.byRef["cardpay/777"] = intent

	body, headers := cardPayBody(t, "evt-777", "777")
	rec := fx.post("cardpay", body, headers)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fx.engine.applied, 1)
	assert.Equal(t, domain.StatusCaptured, fx.engine.applied[0].Status)
	assert.Equal(t, "accredited", fx.engine.applied[0].StatusDetail)
}
