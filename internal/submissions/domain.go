package submissions

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/shared"
)

// Status enumerates submission lifecycle states.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	// StatusLocked is only ever observed through EffectiveStatus or legacy rows.
	StatusLocked Status = "locked"
)

// Submission is one organisation's entry for one period.
type Submission struct {
	ID           uuid.UUID  `json:"id"`
	PeriodID     uuid.UUID  `json:"period_id"`
	Organisation string     `json:"organisation"`
	Status       Status     `json:"status"`
	Values       Values     `json:"values"`
	CreatedBy    uuid.UUID  `json:"-"`
	UpdatedBy    uuid.UUID  `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
}

// Persisted reports whether the submission has been written to the store.
func (s Submission) Persisted() bool { return s.ID != uuid.Nil }

// Total returns the derived total.
func (s Submission) Total() float64 { return s.Values.Total() }

// EffectiveStatus reports locked while the owning period is not open.
func EffectiveStatus(s Submission, p periods.Period) Status {
	if !p.IsOpen() {
		return StatusLocked
	}
	return s.Status
}

// CanEdit applies the editability rule for principal on a submission at now.
// Administrators may edit any organisation while the period is open. Submitters may
// edit only their own organisation inside the period's edit window, and not once
// submitted unless the period was reopened after the submission.
func CanEdit(principal *shared.Principal, s Submission, p periods.Period, now time.Time) bool {
	if !principal.Authenticated() {
		return false
	}
	if !p.IsOpen() || s.Status == StatusLocked {
		return false
	}
	if principal.IsAdmin() {
		return true
	}
	if principal.Organisation == "" || principal.Organisation != s.Organisation {
		return false
	}
	return !frozen(s, p) && p.Code.EditableAt(now)
}

// frozen reports whether a submitted record is still held by its submission.
func frozen(s Submission, p periods.Period) bool {
	if s.Status != StatusSubmitted {
		return false
	}
	if p.ReopenedAt == nil {
		return true
	}
	return s.SubmittedAt != nil && s.SubmittedAt.After(*p.ReopenedAt)
}

var (
	// ErrSubmissionNotFound indicates no stored submission for the pair.
	ErrSubmissionNotFound = fmt.Errorf("submissions: submission %w", shared.ErrNotFound)
	// ErrSubmissionExists indicates a concurrent create for the same period and organisation.
	ErrSubmissionExists = fmt.Errorf("submissions: submission already exists: %w", shared.ErrConflict)
	// ErrPeriodClosed indicates the owning period stopped accepting writes.
	ErrPeriodClosed = fmt.Errorf("submissions: period is not open: %w", shared.ErrNotEditable)
	// ErrNoOrganisation indicates the caller's profile names no organisation.
	ErrNoOrganisation = fmt.Errorf("submissions: no organisation on profile: %w", shared.ErrValidation)
	// ErrNotEditable indicates the caller may not change the submission now.
	ErrNotEditable = fmt.Errorf("submissions: submission is %w", shared.ErrNotEditable)
)
