package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecucondorSA/autorenta-payments/internal/config"
	"github.com/ecucondorSA/autorenta-payments/internal/handler"
	"github.com/ecucondorSA/autorenta-payments/internal/idempotency"
	"github.com/ecucondorSA/autorenta-payments/internal/logging"
	"github.com/ecucondorSA/autorenta-payments/internal/middleware"
	"github.com/ecucondorSA/autorenta-payments/internal/money"
	"github.com/ecucondorSA/autorenta-payments/internal/provider"
	"github.com/ecucondorSA/autorenta-payments/internal/repository"
	"github.com/ecucondorSA/autorenta-payments/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("autorenta-payments", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	intents := repository.NewIntentRepository(db)
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewProcessedEventRepository(db)
	orphans := repository.NewOrphanWebhookRepository(db)
	rates := repository.NewRateRepository(db)
	idemCache := repository.NewIdempotencyRepository(db)

	registry := provider.NewRegistry(
		provider.NewCardPay(cfg.CardPayBaseURL, cfg.CardPayAccessToken, cfg.CardPayWebhookSecret, cfg.ProviderTimeout),
		provider.NewOrderPay(cfg.OrderPayBaseURL, cfg.OrderPayAccessToken, cfg.OrderPayWebhookSecret, cfg.ProviderTimeout),
	)

	guard := idempotency.NewGuard(events, cfg.DedupCacheSize)
	engine := service.NewEngine(db, intents, ledger, guard)

	floors := money.Floors{
		provider.NameCardPay:  {"ARS": cfg.MinAmountCardPay, "USD": cfg.MinAmountCardPay},
		provider.NameOrderPay: {"USD": cfg.MinAmountOrderPay, "EUR": cfg.MinAmountOrderPay},
	}
	intentSvc := service.NewIntentService(intents, rates, registry, engine, floors, cfg.PlatformFeeBps, cfg.RateMaxAge)

	reconciler := service.NewReconciler(service.ReconcilerConfig{
		Interval:        cfg.ReconcileInterval,
		GraceWindow:     cfg.ReconcileGraceWindow,
		MaxAttempts:     cfg.ReconcileMaxAttempts,
		MaxAge:          cfg.ReconcileMaxAge,
		BatchSize:       cfg.ReconcileBatchSize,
		OrphanRetention: cfg.OrphanRetention,
	}, intents, orphans, events, idemCache, registry, engine)

	go reconciler.Start(ctx)

	intentHandler := handler.NewIntentHandler(intentSvc)
	webhookHandler := handler.NewWebhookHandler(registry, intents, orphans, guard, engine)
	reconcileHandler := handler.NewReconcileHandler(reconciler)
	healthHandler := handler.NewHealthHandler(db)

	withIdempotency := middleware.Idempotency(idemCache)

	mux := http.NewServeMux()
	mux.Handle("POST /intents", withIdempotency(http.HandlerFunc(intentHandler.CreateIntent)))
	mux.HandleFunc("GET /intents/{id}", intentHandler.GetIntent)
	mux.HandleFunc("POST /intents/{id}/capture", intentHandler.CaptureIntent)
	mux.HandleFunc("POST /webhooks/{provider}", webhookHandler.ReceiveProviderWebhook)
	mux.HandleFunc("POST /internal/reconcile", reconcileHandler.TriggerReconcile)
	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = mux
	root = middleware.Recovery(root)
	root = middleware.Logging(root)
	root = middleware.Tracing(root)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           root,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
