package service_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/idempotency"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
	"github.com/ecucondorSA/autorenta-payments/internal/service"
	"github.com/ecucondorSA/autorenta-payments/internal/testutil"
)

type engineFixture struct {
	db      *sql.DB
	intents *repository.IntentRepository
	ledger  *repository.LedgerRepository
	engine  *service.Engine
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)

	intents := repository.NewIntentRepository(db)
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewProcessedEventRepository(db)
	guard := idempotency.NewGuard(events, 100)

	return &engineFixture{
		db:      db,
		intents: intents,
		ledger:  ledger,
		engine:  service.NewEngine(db, intents, ledger, guard),
	}
}

func TestApplyCapturedWritesLedgerExactlyOnce(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusPending),
		testutil.WithProviderRef("pay-100"),
	)
	captured := domain.ProviderResult{ProviderRef: "pay-100", Status: domain.StatusCaptured}

	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-1", captured))
	assert.Equal(t, domain.IntentStatusCaptured, testutil.GetIntentStatus(t, fx.db, intent.ID))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-100"))

	// Replayed delivery with the same event id.
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-1", captured))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-100"))

	// New event id announcing the same capture hits the terminal fence.
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-2", captured))
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-100"))
}

func TestApplyNeverRegressesTerminalIntent(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusCaptured),
		testutil.WithProviderRef("pay-200"),
	)

	rejected := domain.ProviderResult{ProviderRef: "pay-200", Status: domain.StatusRejected, StatusDetail: "cc_rejected_high_risk"}
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-late", rejected))

	assert.Equal(t, domain.IntentStatusCaptured, testutil.GetIntentStatus(t, fx.db, intent.ID))
}

func TestApplyUnknownStatusIsNoOp(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db, testutil.WithProviderRef("pay-300"))

	unknown := domain.ProviderResult{ProviderRef: "pay-300", Status: domain.StatusUnknown}
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-u", unknown))

	assert.Equal(t, domain.IntentStatusCreated, testutil.GetIntentStatus(t, fx.db, intent.ID))
	assert.Equal(t, 0, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-300"))
}

func TestApplyDoesNotDowngradeAuthorized(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusAuthorized),
		testutil.WithProviderRef("pay-400"),
	)

	pending := domain.ProviderResult{ProviderRef: "pay-400", Status: domain.StatusRequiresAction}
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-old", pending))

	assert.Equal(t, domain.IntentStatusAuthorized, testutil.GetIntentStatus(t, fx.db, intent.ID))
}

func TestApplySplitCreditsPayeeNetOfFee(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	payee := testutil.OwnerID.String()
	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusPending),
		testutil.WithProviderRef("pay-500"),
		func(i *domain.PaymentIntent) {
			i.Kind = domain.IntentKindBookingCharge
			i.Split = true
			i.PlatformFee = 1500
			i.PayeeRef = &payee
		},
	)

	captured := domain.ProviderResult{ProviderRef: "pay-500", Status: domain.StatusCaptured}
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-split", captured))

	entry, err := fx.ledger.GetByReference(ctx, "cardpay", "pay-500")
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerID, entry.UserID)
	assert.Equal(t, int64(8500), entry.AmountMinor)
	assert.Equal(t, "USD", entry.Currency)

	entries, err := fx.ledger.ListByUser(ctx, testutil.OwnerID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pay-500", entries[0].ReferenceKey)
}

func TestApplyWithdrawalDebits(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusPending),
		testutil.WithProviderRef("pay-600"),
		func(i *domain.PaymentIntent) { i.Kind = domain.IntentKindWithdrawal },
	)

	captured := domain.ProviderResult{ProviderRef: "pay-600", Status: domain.StatusCaptured}
	require.NoError(t, fx.engine.Apply(ctx, intent, "evt-wd", captured))

	entry, err := fx.ledger.GetByReference(ctx, "cardpay", "pay-600")
	require.NoError(t, err)
	assert.Equal(t, int64(-10_000), entry.AmountMinor)

	balance, err := fx.ledger.BalanceForUser(ctx, testutil.RenterID)
	require.NoError(t, err)
	assert.Equal(t, int64(-10_000), balance)
}

func TestFailRespectsTerminalFence(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	created := testutil.SeedIntent(t, fx.db)
	require.NoError(t, fx.engine.Fail(ctx, created.ID, "invalid_request"))
	assert.Equal(t, domain.IntentStatusFailed, testutil.GetIntentStatus(t, fx.db, created.ID))

	captured := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusCaptured),
		testutil.WithProviderRef("pay-700"),
	)
	require.NoError(t, fx.engine.Fail(ctx, captured.ID, "too_late"))
	assert.Equal(t, domain.IntentStatusCaptured, testutil.GetIntentStatus(t, fx.db, captured.ID))
}

func TestRepairLedgerIsIdempotent(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, fx.db,
		testutil.WithStatus(domain.IntentStatusCaptured),
		testutil.WithProviderRef("pay-800"),
	)

	wrote, err := fx.engine.RepairLedger(ctx, intent)
	require.NoError(t, err)
	assert.True(t, wrote)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-800"))

	wrote, err = fx.engine.RepairLedger(ctx, intent)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 1, testutil.CountLedgerEntries(t, fx.db, "cardpay", "pay-800"))
}
