package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/money"
	"github.com/ecucondorSA/autorenta-payments/internal/provider"
)

type intentStore interface {
	Create(ctx context.Context, intent *domain.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error
}

type rateSource interface {
	Latest(ctx context.Context, base, quote string) (*domain.ExchangeRateSnapshot, error)
}

// IntentService owns the write path for payment intents: validation, currency
// conversion, split computation, the provider call and the first transition.
type IntentService struct {
	intents    intentStore
	rates      rateSource
	registry   provider.Registry
	engine     *Engine
	floors     money.Floors
	feeBps     int64
	rateMaxAge time.Duration
}

func NewIntentService(intents intentStore, rates rateSource, registry provider.Registry, engine *Engine, floors money.Floors, feeBps int64, rateMaxAge time.Duration) *IntentService {
	return &IntentService{
		intents:    intents,
		rates:      rates,
		registry:   registry,
		engine:     engine,
		floors:     floors,
		feeBps:     feeBps,
		rateMaxAge: rateMaxAge,
	}
}

type CreateIntentRequest struct {
	Kind          domain.IntentKind
	Provider      string
	AmountMinor   int64
	SettlementCcy string
	PresentedCcy  string
	UserID        uuid.UUID
	BookingID     *uuid.UUID
	PayeeRef      *string
	Description   string
	Metadata      json.RawMessage
}

func (r CreateIntentRequest) validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("validate: kind %q: %w", r.Kind, domain.ErrInvalidKind)
	}
	if r.AmountMinor <= 0 {
		return fmt.Errorf("validate: %w", domain.ErrInvalidAmount)
	}
	if len(r.SettlementCcy) != 3 || len(r.PresentedCcy) != 3 {
		return fmt.Errorf("validate: %w", domain.ErrInvalidCurrency)
	}
	if r.UserID == uuid.Nil {
		return fmt.Errorf("validate: missing user: %w", domain.ErrInvalidRequest)
	}
	if r.Kind == domain.IntentKindBookingCharge && r.PayeeRef == nil {
		return fmt.Errorf("validate: booking charge without payee: %w", domain.ErrInvalidRequest)
	}
	return nil
}

// Create validates, converts and persists a new intent, then asks the provider
// for a charge. The intent row is written before the provider call so a timeout
// leaves a created row for the reconciler to recover; the intent id doubles as
// the provider-side idempotency key, so retrying the call cannot duplicate the
// charge.
func (s *IntentService) Create(ctx context.Context, req CreateIntentRequest) (*domain.PaymentIntent, error) {
	log := logging.FromContext(ctx)

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	gw, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("Create: provider %q: %w", req.Provider, err)
	}

	presentedAmount := req.AmountMinor
	var rate *decimal.Decimal
	if req.SettlementCcy != req.PresentedCcy {
		snap, err := s.rates.Latest(ctx, req.SettlementCcy, req.PresentedCcy)
		if err != nil {
			return nil, fmt.Errorf("Create: %w", err)
		}
		presentedAmount, err = money.Convert(req.AmountMinor, req.SettlementCcy, req.PresentedCcy, snap, time.Now().UTC(), s.rateMaxAge)
		if err != nil {
			return nil, fmt.Errorf("Create: %w", err)
		}
		rate = &snap.Rate
	}

	if err := s.floors.Enforce(req.Provider, req.PresentedCcy, presentedAmount); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	var splitSpec *provider.SplitSpec
	split := req.Kind == domain.IntentKindBookingCharge && req.PayeeRef != nil
	var settlementFee int64
	if split {
		settlementSplit, err := money.ComputeSplit(req.AmountMinor, s.feeBps)
		if err != nil {
			return nil, fmt.Errorf("Create: %w", err)
		}
		presentedSplit, err := money.ComputeSplit(presentedAmount, s.feeBps)
		if err != nil {
			return nil, fmt.Errorf("Create: %w", err)
		}
		settlementFee = settlementSplit.PlatformFee
		splitSpec = &provider.SplitSpec{
			PayeeRef:         *req.PayeeRef,
			PlatformFeeMinor: presentedSplit.PlatformFee,
		}
	}

	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		ID:               uuid.New(),
		Kind:             req.Kind,
		Provider:         req.Provider,
		Status:           domain.IntentStatusCreated,
		SettlementAmount: req.AmountMinor,
		SettlementCcy:    req.SettlementCcy,
		PresentedAmount:  presentedAmount,
		PresentedCcy:     req.PresentedCcy,
		ExchangeRate:     rate,
		Split:            split,
		PlatformFee:      settlementFee,
		PayeeRef:         req.PayeeRef,
		UserID:           req.UserID,
		BookingID:        req.BookingID,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	res, err := gw.CreateCharge(ctx, provider.ChargeSpec{
		IdempotencyKey: intent.ID.String(),
		ExternalRef:    intent.ID.String(),
		AmountMinor:    presentedAmount,
		Currency:       req.PresentedCcy,
		Description:    req.Description,
		Preauthorize:   req.Kind == domain.IntentKindPreauthorization,
		Split:          splitSpec,
	})
	if err != nil {
		var provErr *domain.ProviderError
		if errors.As(err, &provErr) && !provErr.Transient {
			// The provider refused the request itself, not the payment;
			// there is nothing for the reconciler to poll.
			if failErr := s.engine.Fail(ctx, intent.ID, provErr.DetailCode); failErr != nil {
				log.Error("marking intent failed", "error", failErr, "intent_id", intent.ID)
			}
		} else {
			log.Warn("provider charge unresolved, leaving intent for reconciliation",
				"intent_id", intent.ID, "error", err)
		}
		fresh, getErr := s.intents.GetByID(ctx, intent.ID)
		if getErr == nil {
			intent = fresh
		}
		return intent, fmt.Errorf("Create: %w", err)
	}

	if err := s.intents.SetProviderRef(ctx, intent.ID, res.ProviderRef); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	intent.ProviderRef = &res.ProviderRef

	if err := s.engine.Apply(ctx, intent, "", *res); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	fresh, err := s.intents.GetByID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}
	return fresh, nil
}

func (s *IntentService) Get(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.intents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return intent, nil
}

// Capture settles a previously authorized intent, e.g. claiming a security
// deposit preauthorization after damage is reported.
func (s *IntentService) Capture(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.intents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}
	if intent.Status.IsTerminal() {
		return nil, fmt.Errorf("Capture: status %s: %w", intent.Status, domain.ErrIntentTerminal)
	}
	if intent.Status != domain.IntentStatusAuthorized || intent.ProviderRef == nil {
		return nil, fmt.Errorf("Capture: status %s: %w", intent.Status, domain.ErrInvalidRequest)
	}

	gw, err := s.registry.Get(intent.Provider)
	if err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}

	res, err := gw.Capture(ctx, *intent.ProviderRef)
	if err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}

	if err := s.engine.Apply(ctx, intent, "", *res); err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}

	fresh, err := s.intents.GetByID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("Capture: %w", err)
	}
	return fresh, nil
}
