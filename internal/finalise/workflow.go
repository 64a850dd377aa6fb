// Package finalise turns an open reporting period into a finalised one with a stored
// PDF report, and reopens it again.
package finalise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vma-portal/portal/internal/observability"
	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/reports"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/internal/storage"
	"github.com/vma-portal/portal/internal/submissions"
)

// DefaultLease is how long a finalise claim blocks other attempts before it counts as abandoned.
const DefaultLease = 5 * time.Minute

// PeriodStore is the period persistence the workflow needs.
type PeriodStore interface {
	Get(ctx context.Context, id uuid.UUID) (periods.Period, error)
	ClaimFinalise(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (periods.Claim, error)
	CompleteFinalise(ctx context.Context, claim periods.Claim, reportPath string, at time.Time) (periods.Period, error)
	ReleaseFinalise(ctx context.Context, claim periods.Claim) error
	Reopen(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (periods.Period, error)
}

// SubmissionLister loads every submission of a period.
type SubmissionLister interface {
	ListByPeriod(ctx context.Context, periodID uuid.UUID) ([]submissions.Submission, error)
}

// Renderer produces the report document.
type Renderer interface {
	Render(ctx context.Context, code periods.Code, valuesByOrg map[string]submissions.Values) ([]byte, error)
}

// Recorder receives finalisation outcomes.
type Recorder interface {
	ObserveFinalise(outcome string, elapsed time.Duration)
}

// Config wires the workflow's collaborators.
type Config struct {
	Periods     PeriodStore
	Submissions SubmissionLister
	Renderer    Renderer
	Bucket      storage.Bucket
	Audit       shared.AuditRecorder
	Metrics     Recorder
	Logger      *slog.Logger
	Lease       time.Duration
}

// Outcome describes a completed finalisation.
type Outcome struct {
	Period        periods.Period `json:"period"`
	ReportPath    string         `json:"report_pdf_path"`
	Organisations int            `json:"organisations"`
	Bytes         int            `json:"bytes"`
}

// Workflow runs finalise and reopen for administrators.
type Workflow struct {
	periods     PeriodStore
	submissions SubmissionLister
	renderer    Renderer
	bucket      storage.Bucket
	audit       shared.AuditRecorder
	metrics     Recorder
	logger      *slog.Logger
	lease       time.Duration
	now         func() time.Time
	group       singleflight.Group
}

// NewWorkflow constructs a Workflow.
func NewWorkflow(cfg Config) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Workflow{
		periods:     cfg.Periods,
		submissions: cfg.Submissions,
		renderer:    cfg.Renderer,
		bucket:      cfg.Bucket,
		audit:       cfg.Audit,
		metrics:     cfg.Metrics,
		logger:      logger,
		lease:       lease,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (w *Workflow) WithNow(now func() time.Time) {
	if now != nil {
		w.now = now
	}
}

// Finalise aggregates every submission of the period, renders and uploads the report,
// then marks the period finalised. Any failure before the final update leaves the
// period as it was. Concurrent calls for the same period in this process share one run,
// which is bounded by the lease rather than by any one caller's context; a caller whose
// context ends stops waiting while the run carries on for the others.
func (w *Workflow) Finalise(ctx context.Context, principal *shared.Principal, periodID uuid.UUID) (Outcome, error) {
	if err := shared.RequireAdmin(principal); err != nil {
		return Outcome{}, err
	}
	period, err := w.periods.Get(ctx, periodID)
	if err != nil {
		return Outcome{}, err
	}
	results := w.group.DoChan(periodID.String(), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.lease)
		defer cancel()
		return w.run(runCtx, principal, period)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (w *Workflow) run(ctx context.Context, principal *shared.Principal, period periods.Period) (Outcome, error) {
	started := w.now()
	logger := w.logger.With(slog.String("period", period.Code.String()), slog.String("period_id", period.ID.String()))

	claim, err := w.periods.ClaimFinalise(ctx, period.ID, started, started.Add(-w.lease))
	if err != nil {
		if errors.Is(err, periods.ErrFinaliseInProgress) {
			logger.Warn("finalise claim lost", slog.Any("error", err))
			w.observe(observability.OutcomeConflict, started)
		} else {
			w.observe(observability.OutcomeFailed, started)
		}
		return Outcome{}, err
	}

	fail := func(step string, err error) (Outcome, error) {
		logger.Error("finalise step failed", slog.String("step", step), slog.Any("error", err))
		w.release(ctx, logger, claim)
		w.observe(observability.OutcomeFailed, started)
		return Outcome{}, shared.Upstream("finalise: "+step, err)
	}

	subs, err := w.submissions.ListByPeriod(ctx, period.ID)
	if err != nil {
		return fail("load submissions", err)
	}
	valuesByOrg := Aggregate(subs)

	pdf, err := w.renderer.Render(ctx, period.Code, valuesByOrg)
	if err != nil {
		return fail("render", err)
	}

	path := reports.Path(period.Code)
	if err := w.bucket.Upload(ctx, path, pdf, storage.UploadOptions{ContentType: "application/pdf", Overwrite: true}); err != nil {
		return fail("upload", err)
	}

	finalised, err := w.periods.CompleteFinalise(ctx, claim, path, w.now())
	if err != nil {
		logger.Error("finalise status update failed; uploaded report is orphaned",
			slog.String("orphaned_path", path), slog.Any("error", err))
		w.release(ctx, logger, claim)
		w.observe(observability.OutcomeOrphaned, started)
		return Outcome{}, shared.Upstream("finalise: mark finalised", err)
	}

	w.record(ctx, principal.UserID, "period.finalise", finalised, map[string]any{
		"report_pdf_path": path,
		"organisations":   len(valuesByOrg),
		"previous_status": string(claim.PreviousStatus),
	})
	w.observe(observability.OutcomeSuccess, started)
	logger.Info("period finalised", slog.String("report", path), slog.Int("organisations", len(valuesByOrg)))
	return Outcome{Period: finalised, ReportPath: path, Organisations: len(valuesByOrg), Bytes: len(pdf)}, nil
}

// release restores the pre-claim state even when ctx is already cancelled.
func (w *Workflow) release(ctx context.Context, logger *slog.Logger, claim periods.Claim) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.periods.ReleaseFinalise(rctx, claim); err != nil {
		logger.Error("finalise release failed", slog.Any("error", err))
	}
}

// Reopen returns the period to open and clears its report reference. The stored
// document is left in place and submissions keep their status.
func (w *Workflow) Reopen(ctx context.Context, principal *shared.Principal, periodID uuid.UUID) (periods.Period, error) {
	if err := shared.RequireAdmin(principal); err != nil {
		return periods.Period{}, err
	}
	now := w.now()
	before, err := w.periods.Get(ctx, periodID)
	if err != nil {
		return periods.Period{}, err
	}
	reopened, err := w.periods.Reopen(ctx, periodID, now, now.Add(-w.lease))
	if err != nil {
		return periods.Period{}, err
	}
	w.record(ctx, principal.UserID, "period.reopen", reopened, map[string]any{
		"previous_status":      string(before.Status),
		"previous_report_path": before.ReportPath,
	})
	w.logger.Info("period reopened", slog.String("period", reopened.Code.String()))
	return reopened, nil
}

// Aggregate maps organisation to values, regardless of submission status.
func Aggregate(subs []submissions.Submission) map[string]submissions.Values {
	out := make(map[string]submissions.Values, len(subs))
	for _, sub := range subs {
		out[sub.Organisation] = sub.Values
	}
	return out
}

func (w *Workflow) observe(outcome string, started time.Time) {
	if w.metrics == nil {
		return
	}
	w.metrics.ObserveFinalise(outcome, w.now().Sub(started))
}

func (w *Workflow) record(ctx context.Context, actor uuid.UUID, action string, p periods.Period, meta map[string]any) {
	if w.audit == nil {
		return
	}
	meta["period_code"] = p.Code.String()
	err := w.audit.Record(context.WithoutCancel(ctx), shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "period",
		EntityID: p.ID.String(),
		Meta:     meta,
		At:       w.now(),
	})
	if err != nil {
		w.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", fmt.Errorf("finalise: %w", err)))
	}
}
