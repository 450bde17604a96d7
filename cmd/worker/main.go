package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"migration-engine/internal/config"
	"migration-engine/internal/coordinator"
	"migration-engine/internal/dedup"
	"migration-engine/internal/lineage"
	"migration-engine/internal/mappings"
	"migration-engine/internal/migration"
	"migration-engine/internal/models"
	"migration-engine/internal/quality"
	"migration-engine/internal/retry"
	"migration-engine/internal/routing"
	"migration-engine/internal/snapshot"
	"migration-engine/internal/store"
	"migration-engine/internal/telemetry"
	"migration-engine/internal/workflow"
	workerproc "migration-engine/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	// Worker name from env, hostname, or pid.
	workerName := os.Getenv("WORKER_ID")
	if workerName == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerName = hostname
		} else {
			workerName = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	coord := coordinator.New(st, logger, cfg.HeartbeatInterval, cfg.WorkChunkSize)
	workerID, err := coord.Register(ctx, workerName, models.WorkTypeLoad)
	if err != nil {
		logger.Fatal("register worker", zap.Error(err))
	}
	defer func() {
		if err := coord.Shutdown(context.Background(), workerID); err != nil {
			logger.Warn("worker shutdown", zap.Error(err))
		}
	}()

	snapshots := snapshot.NewManager(st, logger)
	deduplicator := dedup.NewDeduplicator(st, logger, cfg.DedupThreshold)
	tracker := lineage.NewTracker(st, logger, cfg.LineageFlushSize)
	retries := retry.NewQueueWithSchedule(st, logger, cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RetryMaxAttempts)
	router := routing.NewRouter(st, logger, cfg.RuleCacheTTL)
	scorer := quality.NewScorer(st, logger)
	workflows := workflow.NewOrchestrator(st, logger)
	orchestrator := migration.NewOrchestrator(st, snapshots, deduplicator, tracker,
		retries, router, scorer, workflows, logger)

	mappingClient := mappings.NewClient(cfg.MappingServiceURL, cfg.MappingServiceTok, cfg.MappingTimeout)

	processor := workerproc.NewProcessor(coord, st, retries, logger,
		workerID, cfg.WorkerTypes, cfg.WorkerPollInterval)
	loadHandler := workerproc.NewLoadHandler(mappingClient, st, orchestrator, logger, cfg.InsertBatchSize)
	processor.RegisterHandler(models.WorkTypeLoad, loadHandler.Handle)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.String("worker_id", workerID),
		zap.String("name", workerName),
		zap.Strings("types", cfg.WorkerTypes),
		zap.Duration("poll_interval", cfg.WorkerPollInterval))
	if err := processor.Run(ctx); err != nil {
		logger.Info("worker stopped", zap.Error(err))
	}
}
