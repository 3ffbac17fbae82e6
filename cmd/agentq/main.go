package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	_ "github.com/skalegrid/agentq/internal/adapter/discord" // notifier registration
	_ "github.com/skalegrid/agentq/internal/adapter/email"   // notifier registration
	aqhttp "github.com/skalegrid/agentq/internal/adapter/http"
	"github.com/skalegrid/agentq/internal/adapter/litellm"
	aqnats "github.com/skalegrid/agentq/internal/adapter/nats"
	"github.com/skalegrid/agentq/internal/adapter/postgres"
	"github.com/skalegrid/agentq/internal/adapter/ristretto"
	_ "github.com/skalegrid/agentq/internal/adapter/slack" // notifier registration
	"github.com/skalegrid/agentq/internal/adapter/ws"
	"github.com/skalegrid/agentq/internal/config"
	"github.com/skalegrid/agentq/internal/logger"
	"github.com/skalegrid/agentq/internal/observability"
	"github.com/skalegrid/agentq/internal/port/messagequeue"
	"github.com/skalegrid/agentq/internal/port/notifier"
	"github.com/skalegrid/agentq/internal/resilience"
	"github.com/skalegrid/agentq/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"sweep_interval", cfg.Orchestrator.SweepInterval,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := aqnats.Connect(ctx, cfg.NATS.URL, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	classifyCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer classifyCache.Close()

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.RequestTimeout)
	llm.SetBreaker(breaker)

	// --- Notifiers ---

	var notifiers []notifier.Notifier
	for _, nc := range cfg.Notifiers {
		n, err := notifier.New(nc.Provider, nc.Config)
		if err != nil {
			return fmt.Errorf("notifier %s: %w", nc.Provider, err)
		}
		notifiers = append(notifiers, n)
	}

	// --- Services ---

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer, "agentq")
	hub := ws.NewHub(log)
	store := postgres.NewStore(pool)

	notifySvc := service.NewNotificationService(log, notifiers)
	classifier := service.NewClassifier(llm, classifyCache, metrics, log, cfg.Orchestrator.ClassifierModel, cfg.Cache.TTL)
	planner := service.NewPlanner(llm, metrics, log, cfg.Orchestrator.PlannerModel)
	dispatcher := service.NewDispatcher(store, queue, metrics, log)
	orchestrator := service.NewOrchestrator(store, classifier, planner, dispatcher, hub, metrics, log, cfg.Orchestrator.ExecutionModel)
	progressSvc := service.NewProgressService(store, hub, notifySvc, metrics, log, cfg.Server.BaseURL)
	executor := service.NewExecutor(store, llm, progressSvc, metrics, log, service.ExecutorConfig{
		DefaultModel:     cfg.Orchestrator.ExecutionModel,
		StepPause:        cfg.Orchestrator.StepPause,
		StepMaxTokens:    cfg.Orchestrator.StepMaxTokens,
		SummaryMaxTokens: cfg.Orchestrator.SummaryMaxTokens,
	})
	sweeper := service.NewSweeper(store, orchestrator, dispatcher, progressSvc, metrics, log,
		cfg.Orchestrator.SweepBatchSize, cfg.Orchestrator.StaleAfter)

	// --- Lane consumers ---

	for _, lane := range messagequeue.Lanes {
		for range cfg.Orchestrator.WorkersPerLane {
			cancel, err := queue.Consume(ctx, lane, executor.HandleJob)
			if err != nil {
				return fmt.Errorf("consume %s: %w", lane, err)
			}
			defer cancel()
		}
	}
	log.Info("lane consumers started", "workers_per_lane", cfg.Orchestrator.WorkersPerLane)

	// --- Maintenance schedule ---

	sched := cron.New()
	sched.Schedule(cron.Every(cfg.Orchestrator.SweepInterval), cron.FuncJob(func() {
		sweepCtx, cancel := context.WithTimeout(ctx, cfg.Orchestrator.SweepInterval)
		defer cancel()
		if _, err := sweeper.RunMaintenance(sweepCtx); err != nil {
			log.Error("maintenance sweep failed", "error", err)
		}
	}))
	sched.Start()
	defer sched.Stop()

	// --- HTTP ---

	handlers := aqhttp.NewHandlers(store, orchestrator, sweeper, queue, hub, breaker, log)
	router := aqhttp.NewRouter(handlers, cfg.Server.CORSOrigin, log)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	// Let in-flight deliveries finish before the HTTP listener closes.
	if err := queue.Drain(); err != nil {
		log.Warn("queue drain failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
