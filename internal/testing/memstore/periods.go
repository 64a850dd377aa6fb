// Package memstore provides in-memory repositories for tests. They keep the same
// uniqueness and conditional-write guarantees as the Postgres implementations.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/periods"
)

// Periods is an in-memory periods.Repository.
type Periods struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*periodRow
	byCode map[string]uuid.UUID

	// FailComplete, when set, is returned by CompleteFinalise.
	FailComplete error
}

type periodRow struct {
	period periods.Period
	token  uuid.UUID
}

// NewPeriods returns an empty store.
func NewPeriods() *Periods {
	return &Periods{byID: make(map[uuid.UUID]*periodRow), byCode: make(map[string]uuid.UUID)}
}

// Seed inserts a period in the given status, returning it.
func (s *Periods) Seed(code periods.Code, status periods.Status, reportPath string) periods.Period {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.insertLocked(code)
	p.period.Status = status
	p.period.ReportPath = reportPath
	return p.period
}

func (s *Periods) insertLocked(code periods.Code) *periodRow {
	now := time.Now().UTC()
	row := &periodRow{period: periods.Period{
		ID:        uuid.New(),
		Code:      code,
		Status:    periods.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.byID[row.period.ID] = row
	s.byCode[code.String()] = row.period.ID
	return row
}

func (s *Periods) List(_ context.Context) ([]periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]periods.Period, 0, len(s.byID))
	for _, row := range s.byID {
		out = append(out, row.period)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code.String() > out[j].Code.String() })
	return out, nil
}

func (s *Periods) Get(_ context.Context, id uuid.UUID) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return row.period, nil
}

func (s *Periods) GetByCode(_ context.Context, code periods.Code) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code.String()]
	if !ok {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	return s.byID[id].period, nil
}

func (s *Periods) Create(_ context.Context, code periods.Code) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byCode[code.String()]; ok {
		return periods.Period{}, fmt.Errorf("%w: %s", periods.ErrPeriodExists, code)
	}
	return s.insertLocked(code).period, nil
}

func (s *Periods) Ensure(_ context.Context, code periods.Code) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byCode[code.String()]; ok {
		return s.byID[id].period, nil
	}
	return s.insertLocked(code).period, nil
}

func (s *Periods) ClaimFinalise(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (periods.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return periods.Claim{}, periods.ErrPeriodNotFound
	}
	p := &row.period
	if p.Status == periods.StatusFinalising && (p.FinaliseStartedAt == nil || !p.FinaliseStartedAt.Before(staleBefore)) {
		return periods.Claim{}, periods.ErrFinaliseInProgress
	}
	claim := periods.Claim{
		PeriodID:           id,
		Token:              uuid.New(),
		StartedAt:          now,
		PreviousStatus:     p.Status,
		PreviousReportPath: p.ReportPath,
	}
	if claim.PreviousStatus == periods.StatusFinalising {
		claim.PreviousStatus = periods.StatusOpen
	}
	started := now
	p.Status = periods.StatusFinalising
	p.FinaliseStartedAt = &started
	p.UpdatedAt = now
	row.token = claim.Token
	return claim, nil
}

func (s *Periods) CompleteFinalise(_ context.Context, claim periods.Claim, reportPath string, at time.Time) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailComplete != nil {
		return periods.Period{}, s.FailComplete
	}
	row, ok := s.held(claim)
	if !ok {
		return periods.Period{}, periods.ErrClaimLost
	}
	finalised := at
	row.period.Status = periods.StatusFinalised
	row.period.ReportPath = reportPath
	row.period.FinalisedAt = &finalised
	row.period.FinaliseStartedAt = nil
	row.period.UpdatedAt = at
	row.token = uuid.Nil
	return row.period, nil
}

func (s *Periods) ReleaseFinalise(_ context.Context, claim periods.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.held(claim)
	if !ok {
		return periods.ErrClaimLost
	}
	row.period.Status = claim.PreviousStatus
	row.period.ReportPath = claim.PreviousReportPath
	row.period.FinaliseStartedAt = nil
	row.token = uuid.Nil
	return nil
}

func (s *Periods) Reopen(_ context.Context, id uuid.UUID, now, staleBefore time.Time) (periods.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	if !ok {
		return periods.Period{}, periods.ErrPeriodNotFound
	}
	p := &row.period
	if p.Status == periods.StatusFinalising && p.FinaliseStartedAt != nil && !p.FinaliseStartedAt.Before(staleBefore) {
		return periods.Period{}, periods.ErrFinaliseInProgress
	}
	p.Status = periods.StatusOpen
	p.ReportPath = ""
	p.FinalisedAt = nil
	p.FinaliseStartedAt = nil
	reopened := now
	p.ReopenedAt = &reopened
	p.UpdatedAt = now
	row.token = uuid.Nil
	return *p, nil
}

// IsOpen reports whether the period is currently open.
func (s *Periods) IsOpen(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byID[id]
	return ok && row.period.Status == periods.StatusOpen
}

func (s *Periods) held(claim periods.Claim) (*periodRow, bool) {
	row, ok := s.byID[claim.PeriodID]
	if !ok || row.period.Status != periods.StatusFinalising || row.token != claim.Token {
		return nil, false
	}
	return row, true
}

var _ periods.Repository = (*Periods)(nil)
