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
	"github.com/vma-portal/portal/internal/audit"
	audithttp "github.com/vma-portal/portal/internal/audit/http"
	"github.com/vma-portal/portal/internal/auth"
	"github.com/vma-portal/portal/internal/finalise"
	"github.com/vma-portal/portal/internal/observability"
	"github.com/vma-portal/portal/internal/platform/cache"
	"github.com/vma-portal/portal/internal/platform/db"
	"github.com/vma-portal/portal/internal/rbac"
	"github.com/vma-portal/portal/internal/reports"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/submissions"
	"github.com/vma-portal/portal/internal/view"
	"github.com/vma-portal/portal/jobs"
	"github.com/vma-portal/portal/report"
)

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

	logger := app.NewLogger(cfg, "portal")

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "portal_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	domain, err := app.NewDomain(app.DomainParams{
		Config:  cfg,
		Pool:    dbpool,
		Bucket:  bucket,
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init domain", slog.Any("error", err))
		os.Exit(1)
	}

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	var enqueuer finalise.Enqueuer
	if cfg.FinaliseAsync {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		enqueuer = jobClient
	}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthService:       authService,
		AuthHandler:       authHandler,
		SubmissionHandler: submissions.NewHandler(logger, domain.Submissions, domain.Periods, authService, templates, csrfManager),
		FinaliseHandler:   finalise.NewHandler(logger, domain.Workflow, domain.Periods, templates, csrfManager, enqueuer),
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(audit.NewPGRepository(dbpool))),
		ReportsHandler:    reports.NewHandler(logger, reports.NewGate(domain.PeriodRepo, bucket, cfg.ReportURLTTL)),
		RendererHandler:   report.NewHandler(domain.PDF, logger),
		JobHandler:        jobs.NewHandler(inspector, logger),
		LocalFiles:        bucket.Local,
		RBACMiddleware:    rbac.Middleware{Logger: logger},
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server starting", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("http server stopped")
}
