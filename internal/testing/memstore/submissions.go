package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/submissions"
)

// Submissions is an in-memory submissions.Repository. Writes consult periods so
// that a closed period rejects them like the Postgres store does.
type Submissions struct {
	mu      sync.Mutex
	periods *Periods
	rows    map[uuid.UUID]submissions.Submission
	byKey   map[string]uuid.UUID
}

// NewSubmissions returns an empty store bound to periods.
func NewSubmissions(p *Periods) *Submissions {
	return &Submissions{
		periods: p,
		rows:    make(map[uuid.UUID]submissions.Submission),
		byKey:   make(map[string]uuid.UUID),
	}
}

func key(periodID uuid.UUID, organisation string) string {
	return periodID.String() + "|" + organisation
}

func (s *Submissions) Find(_ context.Context, periodID uuid.UUID, organisation string) (submissions.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key(periodID, organisation)]
	if !ok {
		return submissions.Submission{}, submissions.ErrSubmissionNotFound
	}
	return s.rows[id], nil
}

func (s *Submissions) Insert(_ context.Context, sub submissions.Submission) (submissions.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.periods != nil && !s.periods.IsOpen(sub.PeriodID) {
		return submissions.Submission{}, submissions.ErrPeriodClosed
	}
	k := key(sub.PeriodID, sub.Organisation)
	if _, exists := s.byKey[k]; exists {
		return submissions.Submission{}, submissions.ErrSubmissionExists
	}
	sub.ID = uuid.New()
	s.rows[sub.ID] = sub
	s.byKey[k] = sub.ID
	return sub, nil
}

func (s *Submissions) Update(_ context.Context, sub submissions.Submission) (submissions.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rows[sub.ID]
	if !ok {
		return submissions.Submission{}, submissions.ErrSubmissionNotFound
	}
	if s.periods != nil && !s.periods.IsOpen(current.PeriodID) {
		return submissions.Submission{}, submissions.ErrPeriodClosed
	}
	sub.PeriodID = current.PeriodID
	sub.Organisation = current.Organisation
	sub.CreatedAt = current.CreatedAt
	sub.CreatedBy = current.CreatedBy
	s.rows[sub.ID] = sub
	return sub, nil
}

func (s *Submissions) ListByPeriod(_ context.Context, periodID uuid.UUID) ([]submissions.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []submissions.Submission
	for _, sub := range s.rows {
		if sub.PeriodID == periodID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Organisation < out[j].Organisation })
	return out, nil
}

// Count returns the number of stored submissions.
func (s *Submissions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

var _ submissions.Repository = (*Submissions)(nil)
