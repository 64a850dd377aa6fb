package periods

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/shared"
)

// CreateInput carries an administrator's request to open a month.
type CreateInput struct {
	Year  int `json:"year" validate:"required,gte=1900,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

// Service exposes period lookups and administrative creation.
type Service struct {
	repo   Repository
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns every period, newest first.
func (s *Service) List(ctx context.Context) ([]Period, error) {
	return s.repo.List(ctx)
}

// Get loads a period by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Period, error) {
	return s.repo.Get(ctx, id)
}

// GetByCode loads a period by its "YYYY-MM" code.
func (s *Service) GetByCode(ctx context.Context, code string) (Period, error) {
	c, err := ParseCode(code)
	if err != nil {
		return Period{}, err
	}
	return s.repo.GetByCode(ctx, c)
}

// Ensure returns the period for code, creating it open when absent.
func (s *Service) Ensure(ctx context.Context, code Code) (Period, error) {
	return s.repo.Ensure(ctx, code)
}

// Finalised returns periods with a downloadable report, newest first.
func (s *Service) Finalised(ctx context.Context) ([]Period, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Period, 0, len(all))
	for _, p := range all {
		if p.HasReport() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Create opens a new period. Only administrators may call it.
func (s *Service) Create(ctx context.Context, principal *shared.Principal, in CreateInput) (Period, error) {
	if err := shared.RequireAdmin(principal); err != nil {
		return Period{}, err
	}
	code, err := CodeOf(in.Year, time.Month(in.Month))
	if err != nil {
		return Period{}, err
	}
	p, err := s.repo.Create(ctx, code)
	if err != nil {
		return Period{}, err
	}
	s.record(ctx, principal.UserID, "period.create", p)
	return p, nil
}

// OpenEditable makes sure the period whose window contains the current time exists.
// It returns false when no window is open.
func (s *Service) OpenEditable(ctx context.Context) (Period, bool, error) {
	code, ok := EditableCode(s.now())
	if !ok {
		return Period{}, false, nil
	}
	p, err := s.repo.Ensure(ctx, code)
	if err != nil {
		return Period{}, false, err
	}
	return p, true, nil
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action string, p Period) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   "period",
		EntityID: p.ID.String(),
		Meta:     map[string]any{"period_code": p.Code.String(), "status": string(p.Status)},
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", fmt.Errorf("periods: %w", err)))
	}
}
