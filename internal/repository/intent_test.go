package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
	"github.com/ecucondorSA/autorenta-payments/internal/testutil"
)

func TestUpdateStatusIfNotTerminal(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIntentRepository(db)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, db, testutil.WithProviderRef("pay-1"))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatusIfNotTerminal(ctx, tx, intent.ID, domain.IntentStatusPending, nil, nil))
	require.NoError(t, tx.Commit())
	assert.Equal(t, domain.IntentStatusPending, testutil.GetIntentStatus(t, db, intent.ID))

	// Move to a terminal state, then verify the fence holds.
	detail := "accredited"
	now := time.Now().UTC()
	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatusIfNotTerminal(ctx, tx, intent.ID, domain.IntentStatusCaptured, &detail, &now))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	err = repo.UpdateStatusIfNotTerminal(ctx, tx, intent.ID, domain.IntentStatusRejected, nil, &now)
	require.ErrorIs(t, err, domain.ErrIntentTerminal)
	tx.Rollback()

	assert.Equal(t, domain.IntentStatusCaptured, testutil.GetIntentStatus(t, db, intent.ID))
}

func TestUpdateStatusMissingIntent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIntentRepository(db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	err = repo.UpdateStatusIfNotTerminal(ctx, tx, uuid.New(), domain.IntentStatusPending, nil, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetProviderRefAssignsExactlyOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIntentRepository(db)
	ctx := context.Background()

	intent := testutil.SeedIntent(t, db)

	require.NoError(t, repo.SetProviderRef(ctx, intent.ID, "pay-9"))

	// Same reference again is a benign retry.
	require.NoError(t, repo.SetProviderRef(ctx, intent.ID, "pay-9"))

	// A different reference is a programming error.
	err := repo.SetProviderRef(ctx, intent.ID, "pay-10")
	require.ErrorIs(t, err, domain.ErrProviderRefAssigned)

	got, err := repo.GetByProviderRef(ctx, "cardpay", "pay-9")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
}

func TestFlagNeedsReviewKeepsProviderDetail(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewIntentRepository(db)
	ctx := context.Background()

	detail := "cc_rejected_high_risk"
	flagged := testutil.SeedIntent(t, db, func(i *domain.PaymentIntent) { i.StatusDetail = &detail })
	require.NoError(t, repo.FlagNeedsReview(ctx, flagged.ID, "reconciliation attempt ceiling reached"))

	got, err := repo.GetByID(ctx, flagged.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReview)
	require.NotNil(t, got.StatusDetail)
	assert.Equal(t, "cc_rejected_high_risk", *got.StatusDetail)

	// Without a provider detail the review reason is the best record.
	bare := testutil.SeedIntent(t, db)
	require.NoError(t, repo.FlagNeedsReview(ctx, bare.ID, "unresolved past reconciliation age ceiling"))

	got, err = repo.GetByID(ctx, bare.ID)
	require.NoError(t, err)
	assert.True(t, got.NeedsReview)
	require.NotNil(t, got.StatusDetail)
	assert.Equal(t, "unresolved past reconciliation age ceiling", *got.StatusDetail)
}

func TestLedgerRejectsDuplicateReference(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ledger := repository.NewLedgerRepository(db)
	ctx := context.Background()

	entry := &domain.WalletLedgerEntry{
		ID:           uuid.New(),
		UserID:       testutil.RenterID,
		AmountMinor:  5000,
		Currency:     "USD",
		ReferenceKey: "pay-dup",
		Provider:     "cardpay",
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Create(ctx, tx, entry))
	require.NoError(t, tx.Commit())

	dup := *entry
	dup.ID = uuid.New()
	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	err = ledger.Create(ctx, tx, &dup)
	require.ErrorIs(t, err, domain.ErrDuplicateReference)
	tx.Rollback()

	n, err := ledger.CountByReference(ctx, "cardpay", "pay-dup")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProcessedEventInsertIsFirstWinner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	events := repository.NewProcessedEventRepository(db)
	ctx := context.Background()

	inserted, err := events.Insert(ctx, "cardpay", "evt-1")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = events.Insert(ctx, "cardpay", "evt-1")
	require.NoError(t, err)
	assert.False(t, inserted)

	// Same event id under another provider is a distinct key.
	inserted, err = events.Insert(ctx, "orderpay", "evt-1")
	require.NoError(t, err)
	assert.True(t, inserted)
}
