package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-clinic/internal/app"
	"github.com/odyssey-erp/odyssey-clinic/internal/arrears"
	jobmetrics "github.com/odyssey-erp/odyssey-clinic/internal/jobs"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
	"github.com/odyssey-erp/odyssey-clinic/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, "worker")
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	loc := cfg.Location()
	metrics := jobmetrics.NewMetrics(nil)

	tariffRepo := tariff.NewRepository(pool)
	catalog := tariff.NewCatalog(tariffRepo, tariff.NewCache(redisClient, cfg.TariffCacheTTL), logger, cfg.SelfPayLabel)

	arrearsService := arrears.NewService(arrears.NewRepository(pool), catalog, loc, logger)
	arrearsStore := arrears.NewStore(redisClient, cfg.ArrearsSnapshotTTL)
	snapshotJob := arrears.NewSnapshotJob(arrearsService, arrearsStore, logger, metrics, cfg.ArrearsSnapshotDays)

	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	snapshotTask, err := jobs.NewArrearsSnapshotTask(jobs.ArrearsSnapshotPayload{Days: cfg.ArrearsSnapshotDays})
	if err != nil {
		logger.Error("build arrears task", slog.Any("error", err))
		os.Exit(1)
	}

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Location:  loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskArrearsSnapshot, Handler: snapshotJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ArrearsSnapshotCron, Task: snapshotTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
