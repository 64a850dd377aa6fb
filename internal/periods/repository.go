package periods

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vma-portal/portal/internal/platform/db"
	"github.com/vma-portal/portal/internal/shared"
)

// Repository persists reporting periods.
type Repository interface {
	List(ctx context.Context) ([]Period, error)
	Get(ctx context.Context, id uuid.UUID) (Period, error)
	GetByCode(ctx context.Context, code Code) (Period, error)
	Create(ctx context.Context, code Code) (Period, error)
	// Ensure returns the period for code, creating it open when absent.
	Ensure(ctx context.Context, code Code) (Period, error)
	// ClaimFinalise moves an open or finalised period, or one whose claim started
	// before staleBefore, into finalising under a fresh token.
	ClaimFinalise(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (Claim, error)
	// CompleteFinalise records the report and marks the period finalised if claim is still held.
	CompleteFinalise(ctx context.Context, claim Claim, reportPath string, at time.Time) (Period, error)
	// ReleaseFinalise restores the state captured by claim if it is still held.
	ReleaseFinalise(ctx context.Context, claim Claim) error
	// Reopen clears the report reference, stamps reopened_at and returns the period to open.
	Reopen(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (Period, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const periodColumns = `id, year, month, status, report_pdf_path, finalise_started_at, finalised_at, reopened_at, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var (
		p          Period
		year       int
		month      int
		status     string
		reportPath *string
	)
	if err := row.Scan(&p.ID, &year, &month, &status, &reportPath, &p.FinaliseStartedAt, &p.FinalisedAt, &p.ReopenedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Period{}, err
	}
	code, err := CodeOf(year, time.Month(month))
	if err != nil {
		return Period{}, err
	}
	p.Code = code
	p.Status = Status(status)
	if reportPath != nil {
		p.ReportPath = *reportPath
	}
	return p, nil
}

// List returns all periods, newest first.
func (r *PGRepository) List(ctx context.Context) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM periods ORDER BY year DESC, month DESC`)
	if err != nil {
		return nil, shared.Upstream("periods: list", err)
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, shared.Upstream("periods: scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Upstream("periods: list", err)
	}
	return out, nil
}

// Get loads a period by id.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE id = $1`, id))
	return p, notFound("periods: get", err)
}

// GetByCode loads a period by year and month.
func (r *PGRepository) GetByCode(ctx context.Context, code Code) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM periods WHERE year = $1 AND month = $2`,
		code.Year(), int(code.Month())))
	return p, notFound("periods: get by code", err)
}

// Create inserts a new open period.
func (r *PGRepository) Create(ctx context.Context, code Code) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `INSERT INTO periods (year, month, status)
VALUES ($1, $2, 'open')
RETURNING `+periodColumns, code.Year(), int(code.Month())))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Period{}, fmt.Errorf("%w: %s", ErrPeriodExists, code)
		}
		return Period{}, shared.Upstream("periods: create", err)
	}
	return p, nil
}

// Ensure returns the period for code, inserting it when missing.
func (r *PGRepository) Ensure(ctx context.Context, code Code) (Period, error) {
	if _, err := r.pool.Exec(ctx, `INSERT INTO periods (year, month, status) VALUES ($1, $2, 'open')
ON CONFLICT (year, month) DO NOTHING`, code.Year(), int(code.Month())); err != nil {
		return Period{}, shared.Upstream("periods: ensure", err)
	}
	return r.GetByCode(ctx, code)
}

// ClaimFinalise atomically takes the finalise claim. The subquery locks the row so the
// previous status and report path are read before the update applies.
func (r *PGRepository) ClaimFinalise(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (Claim, error) {
	claim := Claim{PeriodID: id, Token: uuid.New(), StartedAt: now}
	var (
		prevStatus string
		prevPath   *string
	)
	err := r.pool.QueryRow(ctx, `UPDATE periods AS p
SET status = 'finalising', finalise_token = $2, finalise_started_at = $3, updated_at = $3
FROM (SELECT id, status, report_pdf_path FROM periods WHERE id = $1 FOR UPDATE) AS prev
WHERE p.id = prev.id
  AND (p.status IN ('open', 'finalised') OR (p.status = 'finalising' AND p.finalise_started_at < $4))
RETURNING prev.status, prev.report_pdf_path`, id, claim.Token, now, staleBefore).Scan(&prevStatus, &prevPath)
	if err == nil {
		claim.PreviousStatus = Status(prevStatus)
		if claim.PreviousStatus == StatusFinalising {
			claim.PreviousStatus = StatusOpen
		}
		if prevPath != nil {
			claim.PreviousReportPath = *prevPath
		}
		return claim, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Claim{}, shared.Upstream("periods: claim finalise", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return Claim{}, err
	}
	return Claim{}, ErrFinaliseInProgress
}

// CompleteFinalise marks the period finalised with reportPath.
func (r *PGRepository) CompleteFinalise(ctx context.Context, claim Claim, reportPath string, at time.Time) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `UPDATE periods
SET status = 'finalised', report_pdf_path = $3, finalised_at = $4, updated_at = $4,
    finalise_token = NULL, finalise_started_at = NULL
WHERE id = $1 AND status = 'finalising' AND finalise_token = $2
RETURNING `+periodColumns, claim.PeriodID, claim.Token, reportPath, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, ErrClaimLost
	}
	if err != nil {
		return Period{}, shared.Upstream("periods: complete finalise", err)
	}
	return p, nil
}

// ReleaseFinalise restores the pre-claim status and report path.
func (r *PGRepository) ReleaseFinalise(ctx context.Context, claim Claim) error {
	var path *string
	if claim.PreviousReportPath != "" {
		path = &claim.PreviousReportPath
	}
	tag, err := r.pool.Exec(ctx, `UPDATE periods
SET status = $3, report_pdf_path = $4, finalise_token = NULL, finalise_started_at = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'finalising' AND finalise_token = $2`,
		claim.PeriodID, claim.Token, string(claim.PreviousStatus), path)
	if err != nil {
		return shared.Upstream("periods: release finalise", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

// Reopen returns a period to open. A live finalise claim blocks the transition.
func (r *PGRepository) Reopen(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (Period, error) {
	p, err := scanPeriod(r.pool.QueryRow(ctx, `UPDATE periods
SET status = 'open', report_pdf_path = NULL, finalised_at = NULL, reopened_at = $2, updated_at = $2,
    finalise_token = NULL, finalise_started_at = NULL
WHERE id = $1 AND (status <> 'finalising' OR finalise_started_at < $3)
RETURNING `+periodColumns, id, now, staleBefore))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.Upstream("periods: reopen", err)
	}
	if _, err := r.Get(ctx, id); err != nil {
		return Period{}, err
	}
	return Period{}, ErrFinaliseInProgress
}

func notFound(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPeriodNotFound
	}
	return shared.Upstream(op, err)
}
