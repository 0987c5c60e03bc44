package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ecucondorSA/autorenta-payments/internal/domain"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/metrics"
	"github.com/ecucondorSA/autorenta-payments/internal/provider"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
)

// processedEventRetention bounds the durable dedup table. Providers stop
// replaying events long before this.
const processedEventRetention = 30 * 24 * time.Hour

type reconcileIntentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.PaymentIntent, error)
	SetProviderRef(ctx context.Context, id uuid.UUID, providerRef string) error
	ListStuck(ctx context.Context, olderThan time.Time, maxAttempts, limit int) ([]domain.PaymentIntent, error)
	ListCapturedWithoutLedger(ctx context.Context, limit int) ([]domain.PaymentIntent, error)
	IncrementReconcileAttempts(ctx context.Context, id uuid.UUID) error
	FlagNeedsReview(ctx context.Context, id uuid.UUID, reason string) error
}

type orphanStore interface {
	List(ctx context.Context, limit int) ([]repository.OrphanWebhook, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventJanitor interface {
	CleanOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type idempotencyJanitor interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// ReconcilerConfig carries the poll cadence and safety rails.
type ReconcilerConfig struct {
	Interval        time.Duration
	GraceWindow     time.Duration
	MaxAttempts     int
	MaxAge          time.Duration
	BatchSize       int
	OrphanRetention time.Duration
}

// Reconciler is the second leg of the dual-path model: webhooks are the fast
// path, this poller is the guaranteed one. Every repair funnels through the
// same Engine the webhook handler uses.
type Reconciler struct {
	cfg      ReconcilerConfig
	intents  reconcileIntentStore
	orphans  orphanStore
	events   eventJanitor
	idem     idempotencyJanitor
	registry provider.Registry
	engine   *Engine
}

func NewReconciler(cfg ReconcilerConfig, intents reconcileIntentStore, orphans orphanStore, events eventJanitor, idem idempotencyJanitor, registry provider.Registry, engine *Engine) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		intents:  intents,
		orphans:  orphans,
		events:   events,
		idem:     idem,
		registry: registry,
		engine:   engine,
	}
}

// Start blocks, running sweeps until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("reconciler started", "interval", r.cfg.Interval.String())

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				log.Error("reconcile sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs one full sweep: poll stuck intents, repair missing ledger
// entries, match orphaned webhooks, expire old bookkeeping.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	metrics.ReconcileRuns.Inc()

	if err := r.sweepStuck(ctx); err != nil {
		return fmt.Errorf("RunOnce: %w", err)
	}
	if err := r.repairLedgers(ctx); err != nil {
		return fmt.Errorf("RunOnce: %w", err)
	}
	if err := r.resolveOrphans(ctx); err != nil {
		return fmt.Errorf("RunOnce: %w", err)
	}
	r.expire(ctx)
	return nil
}

func (r *Reconciler) sweepStuck(ctx context.Context) error {
	log := logging.FromContext(ctx)

	cutoff := time.Now().UTC().Add(-r.cfg.GraceWindow)
	stuck, err := r.intents.ListStuck(ctx, cutoff, r.cfg.MaxAttempts, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("sweepStuck: %w", err)
	}

	for i := range stuck {
		intent := &stuck[i]
		if err := r.reconcileIntent(ctx, intent); err != nil {
			log.Warn("reconcile attempt failed", "intent_id", intent.ID, "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	now := time.Now().UTC()
	if now.Sub(intent.CreatedAt) > r.cfg.MaxAge {
		metrics.ReconcileExhausted.Inc()
		return r.intents.FlagNeedsReview(ctx, intent.ID, "unresolved past reconciliation age ceiling")
	}

	gw, err := r.registry.Get(intent.Provider)
	if err != nil {
		return r.intents.FlagNeedsReview(ctx, intent.ID, fmt.Sprintf("no gateway for provider %q", intent.Provider))
	}

	var res *domain.ProviderResult
	if intent.ProviderRef == nil {
		// The create call died before a reference was recorded; search the
		// provider by the reference we sent.
		res, err = gw.FindByExternalRef(ctx, intent.ID.String())
		if errors.Is(err, domain.ErrNotFound) {
			return r.bumpAttempts(ctx, intent)
		}
		if err != nil {
			return errors.Join(err, r.bumpAttempts(ctx, intent))
		}
		if err := r.intents.SetProviderRef(ctx, intent.ID, res.ProviderRef); err != nil {
			return fmt.Errorf("reconcileIntent: %w", err)
		}
		intent.ProviderRef = &res.ProviderRef
	} else {
		res, err = gw.GetStatus(ctx, *intent.ProviderRef)
		if err != nil {
			return errors.Join(err, r.bumpAttempts(ctx, intent))
		}
	}

	// Poll results carry no dedup key: a key consumed by an interrupted
	// transition would block every later sweep from retrying it.
	if err := r.engine.Apply(ctx, intent, "", *res); err != nil {
		return fmt.Errorf("reconcileIntent: %w", err)
	}

	if target, ok := transitionTargets[res.Status]; !ok || !target.IsTerminal() {
		return r.bumpAttempts(ctx, intent)
	}
	return nil
}

func (r *Reconciler) bumpAttempts(ctx context.Context, intent *domain.PaymentIntent) error {
	if err := r.intents.IncrementReconcileAttempts(ctx, intent.ID); err != nil {
		return fmt.Errorf("bumpAttempts: %w", err)
	}
	if intent.ReconcileAttempts+1 >= r.cfg.MaxAttempts {
		metrics.ReconcileExhausted.Inc()
		return r.intents.FlagNeedsReview(ctx, intent.ID, "reconciliation attempt ceiling reached")
	}
	return nil
}

// repairLedgers closes the crash window between a committed capture and its
// ledger write being observed: any captured intent without a matching entry
// gets one, and the unique reference constraint keeps a racing writer honest.
func (r *Reconciler) repairLedgers(ctx context.Context) error {
	log := logging.FromContext(ctx)

	missing, err := r.intents.ListCapturedWithoutLedger(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("repairLedgers: %w", err)
	}

	for i := range missing {
		intent := &missing[i]
		wrote, err := r.engine.RepairLedger(ctx, intent)
		if err != nil {
			log.Error("ledger repair failed", "intent_id", intent.ID, "error", err)
			continue
		}
		if wrote {
			metrics.LedgerRepairs.Inc()
			log.Warn("repaired missing ledger entry", "intent_id", intent.ID)
		}
	}
	return nil
}

// resolveOrphans retries webhooks that arrived before their intent row was
// visible. Ground truth comes from a fresh status fetch, not the stored
// payload, so a stale orphan cannot resurrect an old status.
func (r *Reconciler) resolveOrphans(ctx context.Context) error {
	log := logging.FromContext(ctx)

	orphans, err := r.orphans.List(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("resolveOrphans: %w", err)
	}

	for _, o := range orphans {
		intent, err := r.intents.GetByProviderRef(ctx, o.Provider, o.ProviderRef)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("resolveOrphans: %w", err)
		}

		gw, err := r.registry.Get(o.Provider)
		if err != nil {
			log.Error("orphan for unknown provider", "provider", o.Provider, "event_id", o.EventID)
			continue
		}
		res, err := gw.GetStatus(ctx, o.ProviderRef)
		if err != nil {
			log.Warn("orphan status fetch failed", "event_id", o.EventID, "error", err)
			continue
		}

		if err := r.engine.Apply(ctx, intent, "orphan:"+o.EventID, *res); err != nil {
			log.Error("orphan apply failed", "event_id", o.EventID, "error", err)
			continue
		}
		if err := r.orphans.Delete(ctx, o.ID); err != nil {
			return fmt.Errorf("resolveOrphans: %w", err)
		}
		metrics.OrphanWebhooks.WithLabelValues("matched").Inc()
		log.Info("orphaned webhook matched", "event_id", o.EventID, "intent_id", intent.ID)
	}
	return nil
}

func (r *Reconciler) expire(ctx context.Context) {
	log := logging.FromContext(ctx)

	expired, err := r.orphans.DeleteOlderThan(ctx, time.Now().UTC().Add(-r.cfg.OrphanRetention))
	if err != nil {
		log.Error("expiring orphans", "error", err)
	} else if expired > 0 {
		metrics.OrphanWebhooks.WithLabelValues("expired").Add(float64(expired))
		log.Info("expired unmatched orphan webhooks", "count", expired)
	}

	if _, err := r.events.CleanOlderThan(ctx, time.Now().UTC().Add(-processedEventRetention)); err != nil {
		log.Error("cleaning processed events", "error", err)
	}

	if _, err := r.idem.CleanExpired(ctx); err != nil {
		log.Error("cleaning idempotency cache", "error", err)
	}
}
