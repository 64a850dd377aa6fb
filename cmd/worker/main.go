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

	"github.com/vma-portal/portal/internal/app"
	"github.com/vma-portal/portal/internal/auth"
	"github.com/vma-portal/portal/internal/finalise"
	jobmetrics "github.com/vma-portal/portal/internal/jobs"
	"github.com/vma-portal/portal/internal/observability"
	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/platform/db"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/jobs"
)

// openEditableSpec runs shortly after midnight on the first of each month, when a
// new edit window opens.
const openEditableSpec = "5 0 1 * *"

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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	bucket, err := app.OpenBucket(ctx, cfg)
	if err != nil {
		logger.Error("open report storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := bucket.Close(); err != nil {
			logger.Warn("storage close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	domain, err := app.NewDomain(app.DomainParams{
		Config:  cfg,
		Pool:    pool,
		Bucket:  bucket,
		Audit:   shared.NewAuditLogger(pool),
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init domain", slog.Any("error", err))
		os.Exit(1)
	}

	authService := auth.NewService(auth.NewRepository(pool))
	finaliseJob := finalise.NewJob(domain.Workflow, authService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Location:  periods.ReferenceZone(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPeriodFinalise, Handler: jobMetrics.Instrument(finaliseJob.Handle)},
			{Type: jobs.TaskPeriodOpenEditable, Handler: jobMetrics.Instrument(periods.OpenEditableJob(domain.Periods, logger))},
		},
		Cron: []jobs.CronRegistration{
			{Spec: openEditableSpec, Task: jobs.NewOpenEditableTask(), Options: []asynq.Option{asynq.MaxRetry(5)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
