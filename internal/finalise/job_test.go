package finalise_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vma-portal/portal/internal/finalise"
	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
	"github.com/vma-portal/portal/jobs"
)

type principalMap map[uuid.UUID]*shared.Principal

func (m principalMap) Principal(_ context.Context, id uuid.UUID) (*shared.Principal, error) {
	p, ok := m[id]
	if !ok {
		return nil, shared.ErrUnauthenticated
	}
	return p, nil
}

func task(t *testing.T, periodID, actorID string) *asynq.Task {
	t.Helper()
	tk, err := jobs.NewFinaliseTask(jobs.FinalisePayload{PeriodID: periodID, ActorID: actorID})
	require.NoError(t, err)
	return tk
}

func TestJobFinalises(t *testing.T) {
	f := newFixture(t)
	job := finalise.NewJob(f.workflow(nil), principalMap{admin.UserID: admin}, nil)

	require.NoError(t, job.Handle(context.Background(), task(t, f.period.ID.String(), admin.UserID.String())))
	assert.Equal(t, periods.StatusFinalised, f.current(t).Status)
}

func TestJobSkipsRetryOnTerminalErrors(t *testing.T) {
	f := newFixture(t)
	job := finalise.NewJob(f.workflow(nil), principalMap{admin.UserID: admin, submitter.UserID: submitter}, nil)

	cases := map[string]*asynq.Task{
		"bad payload":   asynq.NewTask(jobs.TaskPeriodFinalise, []byte("{")),
		"bad period id": task(t, "nope", admin.UserID.String()),
		"unknown actor": task(t, f.period.ID.String(), uuid.NewString()),
		"not an admin":  task(t, f.period.ID.String(), submitter.UserID.String()),
		"no period":     task(t, uuid.NewString(), admin.UserID.String()),
	}
	for name, tk := range cases {
		t.Run(name, func(t *testing.T) {
			err := job.Handle(context.Background(), tk)
			require.Error(t, err)
			assert.True(t, errors.Is(err, asynq.SkipRetry), "expected SkipRetry, got %v", err)
		})
	}
	assert.Equal(t, periods.StatusOpen, f.current(t).Status)
}

func TestJobRetriesUpstreamFailures(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("renderer timeout")
	job := finalise.NewJob(f.workflow(nil), principalMap{admin.UserID: admin}, nil)

	err := job.Handle(context.Background(), task(t, f.period.ID.String(), admin.UserID.String()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}
