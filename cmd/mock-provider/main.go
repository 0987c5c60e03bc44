// mock-provider emulates the cardpay and orderpay sandbox APIs for local
// development: it serves both vendors' charge endpoints from one process and,
// when WEBHOOK_TARGET is set, pushes correctly signed webhooks back at the API.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ecucondorSA/autorenta-payments/internal/logging"
)

type mockCharge struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	StatusDetail string `json:"status_detail,omitempty"`
	ExternalRef  string `json:"external_reference,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type mockStore struct {
	mu      sync.Mutex
	nextID  int64
	charges map[string]*mockCharge
	byRef   map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{nextID: 1000, charges: make(map[string]*mockCharge), byRef: make(map[string]string)}
}

func (s *mockStore) create(externalRef string, amount int64, currency, status, detail string) *mockCharge {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Replaying the same external reference returns the original charge, the
	// way real provider idempotency keys behave.
	if id, ok := s.byRef[externalRef]; ok {
		return s.charges[id]
	}

	s.nextID++
	c := &mockCharge{
		ID:           strconv.FormatInt(s.nextID, 10),
		Status:       status,
		StatusDetail: detail,
		ExternalRef:  externalRef,
		Amount:       amount,
		Currency:     currency,
	}
	s.charges[c.ID] = c
	if externalRef != "" {
		s.byRef[externalRef] = c.ID
	}
	return c
}

func (s *mockStore) get(id string) (*mockCharge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[id]
	return c, ok
}

func (s *mockStore) findByRef(ref string) (*mockCharge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[ref]
	if !ok {
		return nil, false
	}
	return s.charges[id], true
}

func (s *mockStore) setStatus(id, status string) (*mockCharge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.charges[id]
	if !ok {
		return nil, false
	}
	c.Status = status
	return c, true
}

// statusForAmount picks the simulated outcome from the amount's last two
// digits, so tests and local clients can force any path.
func statusForAmount(amount int64, approved string) (string, string) {
	switch amount % 100 {
	case 1:
		return "rejected", "cc_rejected_insufficient_amount"
	case 2:
		return "rejected", "cc_rejected_bad_filled_card_number"
	case 3:
		return "rejected", "cc_rejected_high_risk"
	case 4:
		return "pending", ""
	default:
		return approved, ""
	}
}

type webhookPusher struct {
	target         string
	cardPaySecret  string
	orderPaySecret string
	client         *http.Client
}

// pushCardPay sends a cardpay-style notification: body carries only the
// payment id, the signature covers the ts/id manifest.
func (p *webhookPusher) pushCardPay(paymentID string) {
	if p.target == "" {
		return
	}
	eventID := fmt.Sprintf("evt-%d", time.Now().UnixNano())
	requestID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	body, _ := json.Marshal(map[string]any{
		"id":   eventID,
		"type": "payment",
		"data": map[string]string{"id": paymentID},
	})

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", paymentID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(p.cardPaySecret))
	mac.Write([]byte(manifest))
	sig := fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	req, _ := http.NewRequest(http.MethodPost, p.target+"/webhooks/cardpay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-signature", sig)
	req.Header.Set("x-request-id", requestID)
	p.send(req, "cardpay", eventID)
}

func (p *webhookPusher) pushOrderPay(orderID, eventType, reason string) {
	if p.target == "" {
		return
	}
	eventID := fmt.Sprintf("WH-%d", time.Now().UnixNano())

	body, _ := json.Marshal(map[string]any{
		"id":         eventID,
		"event_type": eventType,
		"resource": map[string]string{
			"id":       orderID,
			"order_id": orderID,
			"reason":   reason,
		},
	})

	mac := hmac.New(sha256.New, []byte(p.orderPaySecret))
	mac.Write(body)

	req, _ := http.NewRequest(http.MethodPost, p.target+"/webhooks/orderpay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-orderpay-signature", hex.EncodeToString(mac.Sum(nil)))
	p.send(req, "orderpay", eventID)
}

func (p *webhookPusher) send(req *http.Request, provider, eventID string) {
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Warn("webhook push failed", "provider", provider, "event_id", eventID, "error", err)
		return
	}
	resp.Body.Close()
	slog.Info("webhook pushed", "provider", provider, "event_id", eventID, "status", resp.StatusCode)
}

func respond(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func main() {
	logging.Init("mock-provider", "info", os.Getenv("APP_ENV"))

	pusher := &webhookPusher{
		target:         os.Getenv("WEBHOOK_TARGET"),
		cardPaySecret:  os.Getenv("CARDPAY_WEBHOOK_SECRET"),
		orderPaySecret: os.Getenv("ORDERPAY_WEBHOOK_SECRET"),
		client:         &http.Client{Timeout: 5 * time.Second},
	}

	cardPay := newMockStore()
	orderPay := newMockStore()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// cardpay surface
	mux.HandleFunc("POST /payments", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Amount            int64  `json:"amount"`
			Currency          string `json:"currency"`
			ExternalReference string `json:"external_reference"`
			Capture           bool   `json:"capture"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
			return
		}
		approved := "approved"
		if !req.Capture {
			approved = "authorized"
		}
		status, detail := statusForAmount(req.Amount, approved)
		c := cardPay.create(req.ExternalReference, req.Amount, req.Currency, status, detail)
		go pusher.pushCardPay(c.ID)
		respond(w, http.StatusCreated, c)
	})
	mux.HandleFunc("GET /payments/search", func(w http.ResponseWriter, r *http.Request) {
		results := []*mockCharge{}
		if c, ok := cardPay.findByRef(r.URL.Query().Get("external_reference")); ok {
			results = append(results, c)
		}
		respond(w, http.StatusOK, map[string]any{"results": results})
	})
	mux.HandleFunc("GET /payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, ok := cardPay.get(r.PathValue("id"))
		if !ok {
			respond(w, http.StatusNotFound, map[string]string{"message": "payment not found"})
			return
		}
		respond(w, http.StatusOK, c)
	})
	mux.HandleFunc("PUT /payments/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, ok := cardPay.setStatus(r.PathValue("id"), "approved")
		if !ok {
			respond(w, http.StatusNotFound, map[string]string{"message": "payment not found"})
			return
		}
		go pusher.pushCardPay(c.ID)
		respond(w, http.StatusOK, c)
	})

	// orderpay surface
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AmountMinor int64  `json:"amount_minor"`
			Currency    string `json:"currency"`
			ReferenceID string `json:"reference_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"name": "INVALID_REQUEST"})
			return
		}
		status, detail := statusForAmount(req.AmountMinor, "APPROVED")
		if status == "rejected" {
			status, detail = "DECLINED", "INSTRUMENT_DECLINED"
		} else if status == "pending" {
			status = "PAYER_ACTION_REQUIRED"
		}
		c := orderPay.create(req.ReferenceID, req.AmountMinor, req.Currency, status, detail)
		if status == "APPROVED" {
			go pusher.pushOrderPay(c.ID, "CHECKOUT.ORDER.APPROVED", "")
		}
		respond(w, http.StatusCreated, map[string]any{"id": c.ID, "status": c.Status, "reason": c.StatusDetail})
	})
	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		orders := []map[string]any{}
		if c, ok := orderPay.findByRef(r.URL.Query().Get("reference_id")); ok {
			orders = append(orders, map[string]any{"id": c.ID, "status": c.Status, "reason": c.StatusDetail})
		}
		respond(w, http.StatusOK, map[string]any{"orders": orders})
	})
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		c, ok := orderPay.get(r.PathValue("id"))
		if !ok {
			respond(w, http.StatusNotFound, map[string]string{"name": "RESOURCE_NOT_FOUND"})
			return
		}
		respond(w, http.StatusOK, map[string]any{"id": c.ID, "status": c.Status, "reason": c.StatusDetail})
	})
	mux.HandleFunc("POST /orders/{id}/capture", func(w http.ResponseWriter, r *http.Request) {
		c, ok := orderPay.setStatus(r.PathValue("id"), "COMPLETED")
		if !ok {
			respond(w, http.StatusNotFound, map[string]string{"name": "RESOURCE_NOT_FOUND"})
			return
		}
		go pusher.pushOrderPay(c.ID, "PAYMENT.CAPTURE.COMPLETED", "")
		respond(w, http.StatusOK, map[string]any{"id": c.ID, "status": c.Status})
	})

	addr := os.Getenv("MOCK_PROVIDER_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	slog.Info("mock provider started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
