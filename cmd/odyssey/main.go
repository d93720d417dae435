package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-clinic/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-clinic/internal/app"
	"github.com/odyssey-erp/odyssey-clinic/internal/arrears"
	"github.com/odyssey-erp/odyssey-clinic/internal/audit"
	"github.com/odyssey-erp/odyssey-clinic/internal/billing"
	"github.com/odyssey-erp/odyssey-clinic/internal/observability"
	"github.com/odyssey-erp/odyssey-clinic/internal/patients"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
	"github.com/odyssey-erp/odyssey-clinic/internal/reports"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/shift"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
	"github.com/odyssey-erp/odyssey-clinic/jobs"
)

var _ billing.Metrics = (*observability.Metrics)(nil)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "api")

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	}

	pool, err := db.New(ctx, cfg.PGDSN, "api")
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := cache.Connect(ctx, cfg.RedisAddr, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	loc := cfg.Location()
	metrics := observability.NewMetrics()

	tariffRepo := tariff.NewRepository(pool)
	catalog := tariff.NewCatalog(tariffRepo, tariff.NewCache(redisClient, cfg.TariffCacheTTL), logger, cfg.SelfPayLabel)
	tariffService := tariff.NewService(tariffRepo, catalog)

	shiftService := shift.NewService(shift.NewRepository(pool), loc)
	patientService := patients.NewService(patients.NewRepository(pool))

	billingService := billing.NewService(billing.NewRepository(pool), catalog, shiftService, tariffService, logger)
	billingService.WithMetrics(metrics)
	billingService.WithActivity(shared.NewActivityRecorder(pool))
	billingService.WithNoSupplementaryLabel(cfg.NoSupplementaryLabel)
	billingHandler := billing.NewHandler(logger, billingService, patientService)
	billingHandler.WithIdempotency(shared.NewIdempotencyStore(pool))

	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(queueOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	arrearsService := arrears.NewService(arrears.NewRepository(pool), catalog, loc, logger)
	arrearsStore := arrears.NewStore(redisClient, cfg.ArrearsSnapshotTTL)
	reportService := reports.NewService(reports.NewRepository(pool), loc)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		ActorAuth:       app.NewActorAuth(cfg.ActorTokenSecret, cfg.ActorTokenIssuer, logger),
		Metrics:         metrics,
		PatientsHandler: patients.NewHandler(logger, patientService),
		BillingHandler:  billingHandler,
		ShiftHandler:    shift.NewHandler(logger, shiftService),
		TariffHandler:   tariff.NewHandler(logger, tariffService),
		ArrearsHandler:  arrears.NewHandler(logger, arrearsService, arrearsStore, jobClient, cfg.ArrearsSnapshotDays),
		ReportsHandler:  reports.NewHandler(logger, reportService),
		AuditHandler:    audit.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), loc),
		JobHandler:      jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
