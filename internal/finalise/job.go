package finalise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/jobs"
)

// PrincipalResolver resolves a user id to its authoritative profile.
type PrincipalResolver interface {
	Principal(ctx context.Context, userID uuid.UUID) (*shared.Principal, error)
}

// Job processes queued finalise requests.
type Job struct {
	workflow *Workflow
	resolver PrincipalResolver
	logger   *slog.Logger
}

// NewJob constructs a Job handler.
func NewJob(workflow *Workflow, resolver PrincipalResolver, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{workflow: workflow, resolver: resolver, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. Authorisation, missing periods and
// a finalisation already running elsewhere are not retried.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.workflow == nil || j.resolver == nil {
		return fmt.Errorf("finalise job not configured")
	}
	var payload jobs.FinalisePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	periodID, err := uuid.Parse(payload.PeriodID)
	if err != nil {
		return fmt.Errorf("period id: %v: %w", err, asynq.SkipRetry)
	}
	actorID, err := uuid.Parse(payload.ActorID)
	if err != nil {
		return fmt.Errorf("actor id: %v: %w", err, asynq.SkipRetry)
	}
	principal, err := j.resolver.Principal(ctx, actorID)
	if err != nil {
		if terminal(err) {
			return fmt.Errorf("resolve actor: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	outcome, err := j.workflow.Finalise(ctx, principal, periodID)
	if err != nil {
		if terminal(err) {
			j.logger.Warn("queued finalise rejected", slog.String("period_id", payload.PeriodID), slog.Any("error", err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	j.logger.Info("queued finalise complete", slog.String("period", outcome.Period.Code.String()))
	return nil
}

func terminal(err error) bool {
	return errors.Is(err, shared.ErrUnauthenticated) ||
		errors.Is(err, shared.ErrForbidden) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrConflict)
}
