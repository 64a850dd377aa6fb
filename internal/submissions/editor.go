package submissions

import (
	"context"
	"time"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
)

// Editor drives the lifecycle of one organisation's submission for one period on
// behalf of a single principal.
type Editor struct {
	repo      Repository
	periods   PeriodStore
	principal *shared.Principal
	now       func() time.Time

	period periods.Period
	sub    Submission
	dirty  bool
}

// Period returns the owning period. Its ID is nil until the first save creates it.
func (e *Editor) Period() periods.Period { return e.period }

// Snapshot returns a copy of the current in-memory submission.
func (e *Editor) Snapshot() Submission { return e.sub }

// Dirty reports whether values changed since the last save.
func (e *Editor) Dirty() bool { return e.dirty }

// CanEdit reports whether the principal may change the submission right now.
func (e *Editor) CanEdit() bool {
	return CanEdit(e.principal, e.sub, e.period, e.now())
}

// Status returns the status shown to callers.
func (e *Editor) Status() Status { return EffectiveStatus(e.sub, e.period) }

// SetMetricValue coerces raw and stores it under code, recomputing the total.
func (e *Editor) SetMetricValue(code MetricCode, raw any) (Values, error) {
	if !e.CanEdit() {
		return e.sub.Values, ErrNotEditable
	}
	if err := e.sub.Values.Set(code, CoerceValue(raw)); err != nil {
		return e.sub.Values, err
	}
	e.dirty = true
	return e.sub.Values, nil
}

// SetValues replaces every input metric.
func (e *Editor) SetValues(v Values) error {
	if !e.CanEdit() {
		return ErrNotEditable
	}
	for _, m := range catalogue {
		if err := e.sub.Values.Set(m.Code, v.Get(m.Code)); err != nil {
			return err
		}
	}
	e.dirty = true
	return nil
}

// SaveDraft persists the current values with status draft.
func (e *Editor) SaveDraft(ctx context.Context) (Submission, error) {
	return e.persist(ctx, StatusDraft)
}

// Submit persists the current values with status submitted.
func (e *Editor) Submit(ctx context.Context) (Submission, error) {
	return e.persist(ctx, StatusSubmitted)
}

func (e *Editor) persist(ctx context.Context, status Status) (Submission, error) {
	if !e.CanEdit() {
		return e.sub, ErrNotEditable
	}
	if !e.period.Persisted() {
		p, err := e.periods.Ensure(ctx, e.period.Code)
		if err != nil {
			return e.sub, err
		}
		e.period = p
		if !e.CanEdit() {
			return e.sub, ErrNotEditable
		}
	}

	now := e.now()
	next := e.sub
	next.PeriodID = e.period.ID
	next.Status = status
	next.UpdatedAt = now
	next.UpdatedBy = e.principal.UserID
	if status == StatusSubmitted {
		next.SubmittedAt = &now
	}

	var (
		saved Submission
		err   error
	)
	if next.Persisted() {
		saved, err = e.repo.Update(ctx, next)
	} else {
		next.CreatedAt = now
		next.CreatedBy = e.principal.UserID
		saved, err = e.repo.Insert(ctx, next)
	}
	if err != nil {
		return e.sub, err
	}
	e.sub = saved
	e.dirty = false
	return saved, nil
}
