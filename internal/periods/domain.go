package periods

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/shared"
)

// Status enumerates the reporting period lifecycle.
type Status string

const (
	StatusOpen       Status = "open"
	StatusFinalising Status = "finalising"
	StatusFinalised  Status = "finalised"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusFinalising, StatusFinalised:
		return true
	default:
		return false
	}
}

// Code identifies a calendar month as "YYYY-MM".
type Code struct {
	year  int
	month time.Month
}

// CodeOf builds a Code from a year and month.
func CodeOf(year int, month time.Month) (Code, error) {
	if year < 1900 || year > 9999 {
		return Code{}, fmt.Errorf("%w: year %d out of range", ErrInvalidCode, year)
	}
	if month < time.January || month > time.December {
		return Code{}, fmt.Errorf("%w: month %d out of range", ErrInvalidCode, month)
	}
	return Code{year: year, month: month}, nil
}

// ParseCode parses a "YYYY-MM" period code.
func ParseCode(raw string) (Code, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 7 || raw[4] != '-' || !digits(raw[:4]) || !digits(raw[5:]) {
		return Code{}, fmt.Errorf("%w: %q", ErrInvalidCode, raw)
	}
	year, err := strconv.Atoi(raw[:4])
	if err != nil {
		return Code{}, fmt.Errorf("%w: %q", ErrInvalidCode, raw)
	}
	month, err := strconv.Atoi(raw[5:])
	if err != nil {
		return Code{}, fmt.Errorf("%w: %q", ErrInvalidCode, raw)
	}
	return CodeOf(year, time.Month(month))
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Year returns the calendar year.
func (c Code) Year() int { return c.year }

// Month returns the calendar month.
func (c Code) Month() time.Month { return c.month }

// IsZero reports whether c is the zero Code.
func (c Code) IsZero() bool { return c.year == 0 }

func (c Code) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", c.year, int(c.month))
}

// Next returns the following month.
func (c Code) Next() Code {
	if c.month == time.December {
		return Code{year: c.year + 1, month: time.January}
	}
	return Code{year: c.year, month: c.month + 1}
}

// Prev returns the preceding month.
func (c Code) Prev() Code {
	if c.month == time.January {
		return Code{year: c.year - 1, month: time.December}
	}
	return Code{year: c.year, month: c.month - 1}
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(text []byte) error {
	parsed, err := ParseCode(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Period is one calendar month's reporting cycle.
type Period struct {
	ID                uuid.UUID  `json:"id"`
	Code              Code       `json:"period_code"`
	Status            Status     `json:"status"`
	ReportPath        string     `json:"report_pdf_path,omitempty"`
	FinaliseStartedAt *time.Time `json:"-"`
	FinalisedAt       *time.Time `json:"finalised_at,omitempty"`
	// ReopenedAt is the last time an administrator reopened the period.
	ReopenedAt        *time.Time `json:"reopened_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Year returns the period's calendar year.
func (p Period) Year() int { return p.Code.Year() }

// Month returns the period's calendar month.
func (p Period) Month() time.Month { return p.Code.Month() }

// Persisted reports whether the period exists in the store.
func (p Period) Persisted() bool { return p.ID != uuid.Nil }

// IsOpen reports whether submissions may still change.
func (p Period) IsOpen() bool { return p.Status == StatusOpen }

// HasReport reports whether a generated document is available for download.
func (p Period) HasReport() bool {
	return p.Status == StatusFinalised && p.ReportPath != ""
}

// Claim records an exclusive finalisation attempt and the state it replaced.
type Claim struct {
	PeriodID           uuid.UUID
	Token              uuid.UUID
	StartedAt          time.Time
	PreviousStatus     Status
	PreviousReportPath string
}

var (
	// ErrInvalidCode indicates a malformed period code.
	ErrInvalidCode = fmt.Errorf("periods: invalid period code: %w", shared.ErrValidation)
	// ErrPeriodNotFound indicates the period does not exist.
	ErrPeriodNotFound = fmt.Errorf("periods: period %w", shared.ErrNotFound)
	// ErrPeriodExists indicates a period for the same year and month already exists.
	ErrPeriodExists = fmt.Errorf("periods: period already exists: %w", shared.ErrConflict)
	// ErrFinaliseInProgress indicates another finalisation holds the period.
	ErrFinaliseInProgress = fmt.Errorf("periods: finalisation already in progress: %w", shared.ErrConflict)
	// ErrClaimLost indicates the finalise claim was taken over or released.
	ErrClaimLost = fmt.Errorf("periods: finalise claim no longer held: %w", shared.ErrConflict)
)
