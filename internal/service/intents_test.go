package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/money"
	"github.com/ecucondorSA/autorenta-payments/internal/provider"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
	"github.com/ecucondorSA/autorenta-payments/internal/service"
	"github.com/ecucondorSA/autorenta-payments/internal/testutil"
)

// chargingGateway extends the fake with a scripted CreateCharge.
type chargingGateway struct {
	*fakeGateway
	chargeResult *domain.ProviderResult
	chargeErr    error
	lastSpec     provider.ChargeSpec
	chargeCalls  int
}

func (g *chargingGateway) CreateCharge(ctx context.Context, spec provider.ChargeSpec) (*domain.ProviderResult, error) {
	g.chargeCalls++
	g.lastSpec = spec
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.chargeResult, nil
}

func (g *chargingGateway) Capture(ctx context.Context, providerRef string) (*domain.ProviderResult, error) {
	res, ok := g.byRef[providerRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &res, nil
}

type intentServiceFixture struct {
	*engineFixture
	gateway *chargingGateway
	svc     *service.IntentService
}

func setupIntentService(t *testing.T) *intentServiceFixture {
	t.Helper()
	fx := setupEngine(t)

	gw := &chargingGateway{fakeGateway: newFakeGateway()}
	rates := repository.NewRateRepository(fx.db)
	floors := money.Floors{"cardpay": {"ARS": 100}}

	svc := service.NewIntentService(fx.intents, rates, provider.NewRegistry(gw), fx.engine, floors, 1500, 48*time.Hour)
	return &intentServiceFixture{engineFixture: fx, gateway: gw, svc: svc}
}

func TestCreateIntentConvertsAndSplits(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	testutil.SeedRate(t, fx.db, "USD", "ARS", "1015.0", time.Now().UTC().Add(-time.Hour))

	payee := testutil.OwnerID.String()
	fx.gateway.chargeResult = &domain.ProviderResult{ProviderRef: "pay-ch-1", Status: domain.StatusCaptured}

	intent, err := fx.svc.Create(ctx, service.CreateIntentRequest{
		Kind:          domain.IntentKindBookingCharge,
		Provider:      "cardpay",
		AmountMinor:   10_000,
		SettlementCcy: "USD",
		PresentedCcy:  "ARS",
		UserID:        testutil.RenterID,
		PayeeRef:      &payee,
		Description:   "booking 42",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10_150_000), intent.PresentedAmount)
	assert.Equal(t, "ARS", intent.PresentedCcy)
	assert.True(t, intent.Split)
	assert.Equal(t, int64(1500), intent.PlatformFee)
	require.NotNil(t, intent.ExchangeRate)

	// The provider-side split is computed on the presented amount.
	require.NotNil(t, fx.gateway.lastSpec.Split)
	assert.Equal(t, int64(1_522_500), fx.gateway.lastSpec.Split.PlatformFeeMinor)
	assert.Equal(t, intent.ID.String(), fx.gateway.lastSpec.IdempotencyKey)

	// Immediate capture: credit lands with the owner, net of the fee.
	entry, err := fx.ledger.GetByReference(ctx, "cardpay", "pay-ch-1")
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerID, entry.UserID)
	assert.Equal(t, int64(8500), entry.AmountMinor)
	assert.Equal(t, domain.IntentStatusCaptured, intent.Status)
}

func TestCreateIntentRejectsStaleRate(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	testutil.SeedRate(t, fx.db, "USD", "ARS", "1015.0", time.Now().UTC().Add(-49*time.Hour))

	_, err := fx.svc.Create(ctx, service.CreateIntentRequest{
		Kind:          domain.IntentKindDeposit,
		Provider:      "cardpay",
		AmountMinor:   10_000,
		SettlementCcy: "USD",
		PresentedCcy:  "ARS",
		UserID:        testutil.RenterID,
	})
	require.ErrorIs(t, err, domain.ErrStaleRate)
	assert.Zero(t, fx.gateway.chargeCalls)
}

func TestCreateIntentEnforcesFloor(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	testutil.SeedRate(t, fx.db, "USD", "ARS", "0.005", time.Now().UTC())

	_, err := fx.svc.Create(ctx, service.CreateIntentRequest{
		Kind:          domain.IntentKindDeposit,
		Provider:      "cardpay",
		AmountMinor:   1_000,
		SettlementCcy: "USD",
		PresentedCcy:  "ARS",
		UserID:        testutil.RenterID,
	})
	require.ErrorIs(t, err, domain.ErrBelowMinimum)
	assert.Zero(t, fx.gateway.chargeCalls)
}

func TestCreateIntentTransientProviderErrorLeavesCreatedRow(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	fx.gateway.chargeErr = &domain.ProviderError{
		Provider:  "cardpay",
		Transient: true,
		Err:       errors.New("connection reset"),
	}

	intent, err := fx.svc.Create(ctx, service.CreateIntentRequest{
		Kind:          domain.IntentKindDeposit,
		Provider:      "cardpay",
		AmountMinor:   10_000,
		SettlementCcy: "USD",
		PresentedCcy:  "USD",
		UserID:        testutil.RenterID,
	})
	require.Error(t, err)
	require.NotNil(t, intent)

	// Never guess success: the row stays non-terminal for the reconciler.
	assert.Equal(t, domain.IntentStatusCreated, testutil.GetIntentStatus(t, fx.db, intent.ID))
}

func TestCreateIntentPermanentProviderErrorFails(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	fx.gateway.chargeErr = &domain.ProviderError{
		Provider:   "cardpay",
		StatusCode: 400,
		DetailCode: "invalid_collector",
		Err:        errors.New("bad request"),
	}

	intent, err := fx.svc.Create(ctx, service.CreateIntentRequest{
		Kind:          domain.IntentKindDeposit,
		Provider:      "cardpay",
		AmountMinor:   10_000,
		SettlementCcy: "USD",
		PresentedCcy:  "USD",
		UserID:        testutil.RenterID,
	})
	require.Error(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, domain.IntentStatusFailed, testutil.GetIntentStatus(t, fx.db, intent.ID))
}

func TestCreateIntentUnknownProvider(t *testing.T) {
	fx := setupIntentService(t)

	_, err := fx.svc.Create(context.Background(), service.CreateIntentRequest{
		Kind:          domain.IntentKindDeposit,
		Provider:      "wires-r-us",
		AmountMinor:   10_000,
		SettlementCcy: "USD",
		PresentedCcy:  "USD",
		UserID:        testutil.RenterID,
	})
	require.ErrorIs(t, err, domain.ErrUnknownProvider)
}

func TestCaptureAuthorizedIntent(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusAuthorized),
		testutil.WithProviderRef("pay-auth-1"),
		func(i *domain.PaymentIntent) { i.Kind = domain.IntentKindPreauthorization },
	)
	fx.gateway.byRef["pay-auth-1"] = domain.ProviderResult{ProviderRef: "pay-auth-1", Status: domain.StatusCaptured}

	got, err := fx.svc.Capture(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCaptured, got.Status)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-auth-1"))
}

func TestCaptureRejectsNonAuthorized(t *testing.T) {
	fx := setupIntentService(t)
	ctx := context.Background()

	pending := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusPending),
		testutil.WithProviderRef("pay-auth-2"),
	)
	_, err := fx.svc.Capture(ctx, pending.ID)
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	captured := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusCaptured),
		testutil.WithProviderRef("pay-auth-3"),
	)
	_, err = fx.svc.Capture(ctx, captured.ID)
	require.ErrorIs(t, err, domain.ErrIntentTerminal)
}
