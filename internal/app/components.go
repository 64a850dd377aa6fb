package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vma-portal/portal/internal/finalise"
	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/reports"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/storage"
	"github.com/vma-portal/portal/internal/submissions"
	"github.com/vma-portal/portal/report"
)

// Bucket is the configured report store. Local is set when the local driver serves
// its own signed downloads.
type Bucket struct {
	storage.Bucket
	Local *storage.LocalBucket
	close func() error
}

// Close releases the storage client.
func (b *Bucket) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBucket builds the report store selected by STORAGE_DRIVER.
func OpenBucket(ctx context.Context, cfg *Config) (*Bucket, error) {
	switch cfg.StorageDriver {
	case StorageGCS:
		gcs, err := storage.NewGCSBucket(ctx, storage.GCSConfig{
			Bucket:     cfg.StorageBucket,
			AccessID:   cfg.GCSAccessID,
			PrivateKey: cfg.GCSPrivateKey,
		})
		if err != nil {
			return nil, err
		}
		return &Bucket{Bucket: gcs, close: gcs.Close}, nil
	case StorageLocal:
		local, err := storage.NewLocalBucket(cfg.StorageLocalDir, cfg.AppBaseURL, cfg.StorageSigningSecret)
		if err != nil {
			return nil, err
		}
		return &Bucket{Bucket: local, Local: local}, nil
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.StorageDriver)
	}
}

// Domain holds the repositories and services shared by the server and the worker.
type Domain struct {
	PeriodRepo  periods.Repository
	Periods     *periods.Service
	Submissions *submissions.Service
	Workflow    *finalise.Workflow
	PDF         *report.Client
}

// DomainParams groups what NewDomain needs.
type DomainParams struct {
	Config  *Config
	Pool    *pgxpool.Pool
	Bucket  storage.Bucket
	Audit   shared.AuditRecorder
	Metrics finalise.Recorder
	Logger  *slog.Logger
}

// NewDomain wires the period, submission and finalisation services on Postgres.
func NewDomain(p DomainParams) (*Domain, error) {
	periodRepo := periods.NewPGRepository(p.Pool)
	submissionRepo := submissions.NewPGRepository(p.Pool)

	pdf := report.NewClient(p.Config.GotenbergURL, report.A4Landscape)
	renderer, err := reports.NewRenderer(pdf)
	if err != nil {
		return nil, fmt.Errorf("app: report renderer: %w", err)
	}

	workflow := finalise.NewWorkflow(finalise.Config{
		Periods:     periodRepo,
		Submissions: submissionRepo,
		Renderer:    renderer,
		Bucket:      p.Bucket,
		Audit:       p.Audit,
		Metrics:     p.Metrics,
		Logger:      p.Logger,
		Lease:       p.Config.FinaliseLease,
	})

	return &Domain{
		PeriodRepo:  periodRepo,
		Periods:     periods.NewService(periodRepo, p.Audit, p.Logger),
		Submissions: submissions.NewService(submissionRepo, periodRepo, p.Audit, p.Logger),
		Workflow:    workflow,
		PDF:         pdf,
	}, nil
}
