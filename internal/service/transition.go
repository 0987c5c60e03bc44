package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/metrics"
)

type intentWriter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	UpdateStatusIfNotTerminal(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.IntentStatus, statusDetail *string, terminalAt *time.Time) error
}

type ledgerWriter interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.WalletLedgerEntry) error
}

type admitter interface {
	Admit(ctx context.Context, provider, eventID string) (bool, error)
}

// Engine applies provider observations to intents. Webhook ingestion and the
// retry reconciler both go through Apply, so there is exactly one place where
// dedup, the terminal fence and the ledger write compose.
type Engine struct {
	db      *sql.DB
	intents intentWriter
	ledger  ledgerWriter
	guard   admitter
}

func NewEngine(db *sql.DB, intents intentWriter, ledger ledgerWriter, guard admitter) *Engine {
	return &Engine{db: db, intents: intents, ledger: ledger, guard: guard}
}

// transitionTargets maps the normalized provider vocabulary onto intent
// statuses. StatusUnknown and StatusDisputed are deliberately absent: neither
// may move an intent on its own.
var transitionTargets = map[domain.ProviderStatus]domain.IntentStatus{
	domain.StatusCreated:        domain.IntentStatusPending,
	domain.StatusRequiresAction: domain.IntentStatusPending,
	domain.StatusAuthorized:     domain.IntentStatusAuthorized,
	domain.StatusCaptured:       domain.IntentStatusCaptured,
	domain.StatusRejected:       domain.IntentStatusRejected,
	domain.StatusCancelled:      domain.IntentStatusCancelled,
	domain.StatusRefunded:       domain.IntentStatusCancelled,
}

// statusRank orders the non-terminal statuses so a late pending observation
// cannot regress an already authorized intent.
var statusRank = map[domain.IntentStatus]int{
	domain.IntentStatusCreated:    0,
	domain.IntentStatusPending:    1,
	domain.IntentStatusAuthorized: 2,
}

// Apply advances one intent from one provider observation. dedupKey is a
// provider-issued event id, scoped per provider; a duplicate observation, or
// one that lands after the intent went terminal, returns nil. Both are
// expected outcomes, not failures.
//
// An empty dedupKey marks an observation the caller fetched itself (a poll
// result, or the response to its own charge or capture call). Those consume
// no durable key: the rank check, the terminal fence and the ledger reference
// constraint already make re-applying them a no-op, while a key consumed
// before the transaction below commits could never be retried.
func (e *Engine) Apply(ctx context.Context, intent *domain.PaymentIntent, dedupKey string, result domain.ProviderResult) error {
	log := logging.FromContext(ctx).With(
		"intent_id", intent.ID,
		"provider", intent.Provider,
		"provider_status", string(result.Status),
	)

	if dedupKey != "" {
		admitted, err := e.guard.Admit(ctx, intent.Provider, dedupKey)
		if err != nil {
			return fmt.Errorf("Apply: admit: %w", err)
		}
		if !admitted {
			log.Debug("observation already processed", "dedup_key", dedupKey)
			return nil
		}
	}

	target, ok := transitionTargets[result.Status]
	if !ok {
		log.Info("observation carries no transition", "status_detail", result.StatusDetail)
		return nil
	}
	if !target.IsTerminal() && statusRank[target] <= statusRank[intent.Status] {
		log.Debug("observation does not advance intent", "current", string(intent.Status))
		return nil
	}

	var detail *string
	if result.StatusDetail != "" {
		detail = &result.StatusDetail
	}
	var terminalAt *time.Time
	if target.IsTerminal() {
		now := time.Now().UTC()
		terminalAt = &now
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Apply: begin: %w", err)
	}
	defer tx.Rollback()

	if err := e.intents.UpdateStatusIfNotTerminal(ctx, tx, intent.ID, target, detail, terminalAt); err != nil {
		if errors.Is(err, domain.ErrIntentTerminal) {
			log.Info("intent already terminal, observation dropped")
			return nil
		}
		return fmt.Errorf("Apply: %w", err)
	}

	if target == domain.IntentStatusCaptured {
		if err := e.writeLedgerEntry(ctx, tx, intent, log); err != nil {
			return fmt.Errorf("Apply: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Apply: commit: %w", err)
	}

	metrics.TransitionsApplied.WithLabelValues(intent.Provider, string(target)).Inc()
	log.Info("intent transitioned", "to", string(target))
	return nil
}

// Fail moves an intent to failed, typically when the provider rejected the
// charge request itself and left nothing to poll. The terminal fence still
// applies, so a concurrent capture wins.
func (e *Engine) Fail(ctx context.Context, id uuid.UUID, detail string) error {
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}
	now := time.Now().UTC()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Fail: begin: %w", err)
	}
	defer tx.Rollback()

	if err := e.intents.UpdateStatusIfNotTerminal(ctx, tx, id, domain.IntentStatusFailed, detailPtr, &now); err != nil {
		if errors.Is(err, domain.ErrIntentTerminal) {
			return nil
		}
		return fmt.Errorf("Fail: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Fail: commit: %w", err)
	}
	return nil
}

// writeLedgerEntry credits the beneficiary inside the capture transaction.
// A duplicate reference means the entry already exists (e.g. a repair pass
// won the race), so the status update still commits.
func (e *Engine) writeLedgerEntry(ctx context.Context, tx *sql.Tx, intent *domain.PaymentIntent, log *slog.Logger) error {
	entry, err := LedgerEntryForIntent(intent)
	if err != nil {
		return err
	}

	if err := e.ledger.Create(ctx, tx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			log.Info("ledger entry already written", "reference_key", entry.ReferenceKey)
			return nil
		}
		return err
	}
	metrics.LedgerEntriesWritten.WithLabelValues(intent.Provider).Inc()
	return nil
}

// RepairLedger writes the ledger entry for an already-captured intent whose
// capture transaction committed without one being visible. Reports whether a
// new entry was written; a duplicate reference means another writer got there.
func (e *Engine) RepairLedger(ctx context.Context, intent *domain.PaymentIntent) (bool, error) {
	entry, err := LedgerEntryForIntent(intent)
	if err != nil {
		return false, fmt.Errorf("RepairLedger: %w", err)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("RepairLedger: begin: %w", err)
	}
	defer tx.Rollback()

	if err := e.ledger.Create(ctx, tx, entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateReference) {
			return false, nil
		}
		return false, fmt.Errorf("RepairLedger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("RepairLedger: commit: %w", err)
	}

	metrics.LedgerEntriesWritten.WithLabelValues(intent.Provider).Inc()
	return true, nil
}

// LedgerEntryForIntent builds the single ledger credit a captured intent
// produces. The reference key is the provider reference, so the unique
// (provider, reference_key) constraint makes the credit at-most-once.
// Withdrawals debit, everything else credits the settlement amount net of
// the platform fee.
func LedgerEntryForIntent(intent *domain.PaymentIntent) (*domain.WalletLedgerEntry, error) {
	if intent.ProviderRef == nil {
		return nil, fmt.Errorf("LedgerEntryForIntent: intent %s captured without provider ref", intent.ID)
	}

	userID := intent.UserID
	if intent.Split && intent.PayeeRef != nil {
		payee, err := uuid.Parse(*intent.PayeeRef)
		if err != nil {
			return nil, fmt.Errorf("LedgerEntryForIntent: payee ref: %w", err)
		}
		userID = payee
	}

	amount := intent.SettlementAmount - intent.PlatformFee
	if intent.Kind == domain.IntentKindWithdrawal {
		amount = -intent.SettlementAmount
	}

	return &domain.WalletLedgerEntry{
		ID:           uuid.New(),
		UserID:       userID,
		AmountMinor:  amount,
		Currency:     intent.SettlementCcy,
		ReferenceKey: *intent.ProviderRef,
		Provider:     intent.Provider,
		Metadata:     intent.Metadata,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
