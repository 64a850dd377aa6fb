package submissions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
)

// PeriodStore is the subset of the period repository submissions depend on.
type PeriodStore interface {
	GetByCode(ctx context.Context, code periods.Code) (periods.Period, error)
	Ensure(ctx context.Context, code periods.Code) (periods.Period, error)
}

// SaveInput carries one save or submit request.
type SaveInput struct {
	PeriodCode   string
	Organisation string
	Values       Values
	Submit       bool
}

// Service opens editors and answers submission queries.
type Service struct {
	repo    Repository
	periods PeriodStore
	audit   shared.AuditRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, periodStore PeriodStore, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, periods: periodStore, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// LoadOrCreate returns an editor over the stored submission for organisation and
// periodCode, or over a zero-valued draft that is written on the first save.
// Submitters may only open their own organisation.
func (s *Service) LoadOrCreate(ctx context.Context, principal *shared.Principal, organisation, periodCode string) (*Editor, error) {
	if !principal.Authenticated() {
		return nil, shared.ErrUnauthenticated
	}
	organisation = strings.TrimSpace(organisation)
	if organisation == "" {
		organisation = principal.Organisation
	}
	if organisation == "" {
		return nil, ErrNoOrganisation
	}
	if !principal.IsAdmin() && organisation != principal.Organisation {
		return nil, shared.ErrForbidden
	}
	code, err := periods.ParseCode(periodCode)
	if err != nil {
		return nil, err
	}

	period, err := s.periods.GetByCode(ctx, code)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		period = periods.Period{Code: code, Status: periods.StatusOpen}
	case err != nil:
		return nil, err
	}

	sub := Submission{PeriodID: period.ID, Organisation: organisation, Status: StatusDraft}
	if period.Persisted() {
		found, err := s.repo.Find(ctx, period.ID, organisation)
		switch {
		case err == nil:
			sub = found
		case !errors.Is(err, shared.ErrNotFound):
			return nil, err
		}
	}

	return &Editor{
		repo:      s.repo,
		periods:   s.periods,
		principal: principal,
		now:       s.now,
		period:    period,
		sub:       sub,
	}, nil
}

// Save applies in.Values through an editor and persists them as draft or submitted.
func (s *Service) Save(ctx context.Context, principal *shared.Principal, in SaveInput) (*Editor, error) {
	editor, err := s.LoadOrCreate(ctx, principal, in.Organisation, in.PeriodCode)
	if err != nil {
		return nil, err
	}
	if err := editor.SetValues(in.Values); err != nil {
		return editor, err
	}
	action := "submission.save_draft"
	if in.Submit {
		action = "submission.submit"
		_, err = editor.Submit(ctx)
	} else {
		_, err = editor.SaveDraft(ctx)
	}
	if err != nil {
		return editor, err
	}
	s.record(ctx, principal, action, editor)
	return editor, nil
}

// ListForPeriod returns the period's submissions visible to principal, ordered by organisation.
func (s *Service) ListForPeriod(ctx context.Context, principal *shared.Principal, periodCode string) (periods.Period, []Submission, error) {
	if !principal.Authenticated() {
		return periods.Period{}, nil, shared.ErrUnauthenticated
	}
	code, err := periods.ParseCode(periodCode)
	if err != nil {
		return periods.Period{}, nil, err
	}
	period, err := s.periods.GetByCode(ctx, code)
	if err != nil {
		return periods.Period{}, nil, err
	}
	all, err := s.repo.ListByPeriod(ctx, period.ID)
	if err != nil {
		return periods.Period{}, nil, err
	}
	visible := make([]Submission, 0, len(all))
	for _, sub := range all {
		if principal.IsAdmin() || sub.Organisation == principal.Organisation {
			visible = append(visible, sub)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].Organisation < visible[j].Organisation })
	return period, visible, nil
}

func (s *Service) record(ctx context.Context, principal *shared.Principal, action string, e *Editor) {
	if s.audit == nil {
		return
	}
	sub := e.Snapshot()
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  principal.UserID,
		Action:   action,
		Entity:   "submission",
		EntityID: sub.ID.String(),
		Meta: map[string]any{
			"period_code":  e.Period().Code.String(),
			"organisation": sub.Organisation,
			"total":        sub.Total(),
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
