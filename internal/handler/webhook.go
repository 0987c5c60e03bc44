package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/metrics"
	"github.com/ecucondorSA/autorenta-payments/internal/provider"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
)

type webhookIntentReader interface {
	GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.PaymentIntent, error)
}

type webhookOrphanStore interface {
	Create(ctx context.Context, o *repository.OrphanWebhook) error
}

type webhookEngine interface {
	Apply(ctx context.Context, intent *domain.PaymentIntent, dedupKey string, result domain.ProviderResult) error
}

type webhookAdmitter interface {
	Admit(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler ingests provider callbacks. Order matters: the signature gate
// comes first and nothing touches state before it passes; every response after
// that is 200 so the provider stops retrying.
type WebhookHandler struct {
	registry provider.Registry
	intents  webhookIntentReader
	orphans  webhookOrphanStore
	guard    webhookAdmitter
	engine   webhookEngine
}

func NewWebhookHandler(registry provider.Registry, intents webhookIntentReader, orphans webhookOrphanStore, guard webhookAdmitter, engine webhookEngine) *WebhookHandler {
	return &WebhookHandler{
		registry: registry,
		intents:  intents,
		orphans:  orphans,
		guard:    guard,
		engine:   engine,
	}
}

func (h *WebhookHandler) ReceiveProviderWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	providerName := r.PathValue("provider")

	gw, err := h.registry.Get(providerName)
	if err != nil {
		RespondAppError(w, ErrUnknownProvider, nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if err := gw.VerifyWebhookSignature(r.Header, body); err != nil {
		log.Warn("webhook signature verification failed", "provider", providerName, "error", err)
		metrics.WebhooksReceived.WithLabelValues(providerName, "invalid_signature").Inc()
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	event, err := gw.ParseWebhook(body)
	if err != nil {
		log.Warn("failed to parse webhook payload", "provider", providerName, "error", err)
		metrics.WebhooksReceived.WithLabelValues(providerName, "bad_payload").Inc()
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	intent, err := h.intents.GetByProviderRef(r.Context(), providerName, event.ProviderRef)
	if errors.Is(err, domain.ErrNotFound) {
		// Raced ahead of the intent row; park it for the reconciler. The
		// orphan table absorbs replays, so the event is not consumed here.
		orphan := &repository.OrphanWebhook{
			ID:          uuid.New(),
			Provider:    providerName,
			EventID:     event.EventID,
			ProviderRef: event.ProviderRef,
			Payload:     body,
			ReceivedAt:  time.Now().UTC(),
		}
		if err := h.orphans.Create(r.Context(), orphan); err != nil {
			log.Error("failed to store orphaned webhook", "error", err)
			RespondAppError(w, ErrInternalError, nil)
			return
		}
		metrics.WebhooksReceived.WithLabelValues(providerName, "orphaned").Inc()
		log.Info("webhook stored as orphan", "provider", providerName, "event_id", event.EventID, "provider_ref", event.ProviderRef)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}
	if err != nil {
		log.Error("intent lookup failed", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	admitted, err := h.guard.Admit(r.Context(), providerName, event.EventID)
	if err != nil {
		log.Error("idempotency admit failed", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}
	if !admitted {
		metrics.WebhooksReceived.WithLabelValues(providerName, "duplicate").Inc()
		log.Info("duplicate webhook received", "provider", providerName, "event_id", event.EventID)
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_processed"})
		return
	}

	result := event.Result
	if result.Status == domain.StatusUnknown {
		// Notification-only webhook; fetch ground truth.
		fresh, err := gw.GetStatus(r.Context(), event.ProviderRef)
		if err != nil {
			log.Error("status fetch after webhook failed", "provider", providerName, "error", err)
			metrics.WebhooksReceived.WithLabelValues(providerName, "error").Inc()
			RespondAppError(w, ErrInternalError, nil)
			return
		}
		result = *fresh
	}

	if err := h.engine.Apply(r.Context(), intent, "event:"+event.EventID, result); err != nil {
		log.Error("webhook transition failed", "provider", providerName, "event_id", event.EventID, "error", err)
		metrics.WebhooksReceived.WithLabelValues(providerName, "error").Inc()
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	metrics.WebhooksReceived.WithLabelValues(providerName, "processed").Inc()
	log.Info("webhook processed",
		"provider", providerName,
		"event_id", event.EventID,
		"intent_id", intent.ID,
		"provider_status", string(result.Status),
	)
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "processed"})
}
