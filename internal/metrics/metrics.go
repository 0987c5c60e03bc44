package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhooks_received_total",
		Help: "Inbound provider webhooks by outcome",
	}, []string{"provider", "outcome"})

	TransitionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_intent_transitions_total",
		Help: "Intent status transitions applied",
	}, []string{"provider", "to_status"})

	LedgerEntriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_ledger_entries_total",
		Help: "Wallet ledger entries written",
	}, []string{"provider"})

	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_reconcile_runs_total",
		Help: "Reconciler ticks executed",
	})

	ReconcileExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_reconcile_exhausted_total",
		Help: "Intents flagged for manual review after the retry ceiling",
	})

	LedgerRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_ledger_repairs_total",
		Help: "Captured intents whose missing ledger entry was backfilled",
	})

	OrphanWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_orphan_webhooks_total",
		Help: "Webhook events with no matching intent, by outcome",
	}, []string{"outcome"})

	ProviderCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_provider_call_duration_seconds",
		Help:    "Outbound provider call latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider", "op"})
)
