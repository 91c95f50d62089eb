package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/subiq/internal/adapter/downstream"
	"github.com/neomorfeo/subiq/internal/adapter/fsm"
	riveradapter "github.com/neomorfeo/subiq/internal/adapter/river"
	"github.com/neomorfeo/subiq/internal/adapter/sqlite"
	"github.com/neomorfeo/subiq/internal/app"
	"github.com/neomorfeo/subiq/internal/config"

	handler "github.com/neomorfeo/subiq/internal/adapter/http"
	otelsetup "github.com/neomorfeo/subiq/internal/adapter/otel"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// --- Observability ---
	providers, err := otelsetup.Setup(ctx, otelsetup.ConfigFromEnv())
	if err != nil {
		log.Fatalf("otel: %v", err)
	}

	// --- Adapters (out) ---
	db, err := otelsetup.OpenDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	subscriptions := sqlite.NewSubscriptionRepository(store)
	workflows := sqlite.NewWorkflowRepository(store)
	payments := sqlite.NewPaymentRepository(store)
	catalog := sqlite.NewPlanCatalog(store)
	ledger := otelsetup.NewTracingLedger(sqlite.NewLedger(store))
	dispatcher := otelsetup.NewTracingDispatcher(
		downstream.New(cfg.TargetURLs(), &http.Client{Timeout: cfg.StepTimeout}),
	)

	// --- Application ---
	queue := riveradapter.NewQueue()
	advisor := app.NewReconnectionAdvisor(subscriptions, payments, catalog)
	orchestrator := app.NewOrchestrator(app.OrchestratorDeps{
		Subscriptions: subscriptions,
		Workflows:     workflows,
		Ledger:        ledger,
		Dispatcher:    dispatcher,
		Validator:     fsm.New(),
		Locks:         fsm.NewLockValidator(),
		Queue:         queue,
		Advisor:       advisor,
	}, app.RetryPolicy{
		MaxAttempts: cfg.StepMaxAttempts,
		BaseDelay:   cfg.StepBaseDelay,
		MaxDelay:    cfg.StepMaxDelay,
		StepTimeout: cfg.StepTimeout,
	})
	gate := app.NewApprovalGate(workflows, payments, ledger, orchestrator)

	// --- Task pool ---
	client, err := riveradapter.Setup(ctx, db, orchestrator, cfg.QueueWorkers)
	if err != nil {
		log.Fatalf("river: %v", err)
	}
	queue.Bind(client)

	if err := client.Start(ctx); err != nil {
		log.Fatalf("starting river: %v", err)
	}

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware("subiq", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("subiq", "0.1.0"))
	handler.Register(api, gate, orchestrator)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("subiq listening", "port", cfg.Port)
		slog.Info("API docs", "url", "http://localhost:"+cfg.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	if err := client.Stop(shutdownCtx); err != nil {
		slog.Error("river shutdown", "error", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		slog.Error("otel shutdown", "error", err)
	}

	slog.Info("stopped")
}
