package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	api "migration-engine/internal/api"
	"migration-engine/internal/config"
	"migration-engine/internal/coordinator"
	"migration-engine/internal/dedup"
	"migration-engine/internal/lineage"
	"migration-engine/internal/mappings"
	"migration-engine/internal/migration"
	"migration-engine/internal/quality"
	"migration-engine/internal/ratelimit"
	"migration-engine/internal/retry"
	"migration-engine/internal/routing"
	"migration-engine/internal/snapshot"
	"migration-engine/internal/store"
	"migration-engine/internal/workflow"
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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)

	snapshots := snapshot.NewManager(st, logger)
	var archiver *snapshot.Archiver
	if cfg.SnapshotS3Bucket != "" {
		archiver, err = snapshot.NewArchiver(ctx, snapshot.ArchiverConfig{
			Bucket:    cfg.SnapshotS3Bucket,
			Region:    cfg.SnapshotS3Region,
			Endpoint:  cfg.SnapshotS3Endpoint,
			PathStyle: cfg.SnapshotS3Path,
		}, st, logger)
		if err != nil {
			logger.Fatal("init snapshot archiver", zap.Error(err))
		}
	}

	deduplicator := dedup.NewDeduplicator(st, logger, cfg.DedupThreshold)
	tracker := lineage.NewTracker(st, logger, cfg.LineageFlushSize)
	retries := retry.NewQueueWithSchedule(st, logger, cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.RetryMaxAttempts)
	router := routing.NewRouter(st, logger, cfg.RuleCacheTTL)
	scorer := quality.NewScorer(st, logger)
	workflows := workflow.NewOrchestrator(st, logger)
	orchestrator := migration.NewOrchestrator(st, snapshots, deduplicator, tracker,
		retries, router, scorer, workflows, logger)

	mappingClient := mappings.NewClient(cfg.MappingServiceURL, cfg.MappingServiceTok, cfg.MappingTimeout)
	coord := coordinator.New(st, logger, cfg.HeartbeatInterval, cfg.WorkChunkSize)

	server := api.New(cfg, st, orchestrator, snapshots, deduplicator, tracker,
		mappingClient, limiter, archiver, coord, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
