package submissions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vma-portal/portal/internal/platform/db"
	"github.com/vma-portal/portal/internal/shared"
)

// Repository persists submissions and their metric values.
type Repository interface {
	Find(ctx context.Context, periodID uuid.UUID, organisation string) (Submission, error)
	// Insert writes a new submission. A second row for the same period and organisation
	// fails with ErrSubmissionExists.
	Insert(ctx context.Context, sub Submission) (Submission, error)
	// Update overwrites status and values; last write wins.
	Update(ctx context.Context, sub Submission) (Submission, error)
	ListByPeriod(ctx context.Context, periodID uuid.UUID) ([]Submission, error)
}

// PGRepository implements Repository on PostgreSQL. Writes are rejected with
// ErrPeriodClosed unless the owning period is open at the time of the write.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const submissionColumns = `s.id, s.period_id, s.organisation, s.status, s.created_by, s.updated_by, s.created_at, s.updated_at, s.submitted_at`

func scanSubmission(row pgx.Row) (Submission, error) {
	var (
		sub                  Submission
		status               string
		createdBy, updatedBy *uuid.UUID
	)
	if err := row.Scan(&sub.ID, &sub.PeriodID, &sub.Organisation, &status, &createdBy, &updatedBy,
		&sub.CreatedAt, &sub.UpdatedAt, &sub.SubmittedAt); err != nil {
		return Submission{}, err
	}
	sub.Status = Status(status)
	if createdBy != nil {
		sub.CreatedBy = *createdBy
	}
	if updatedBy != nil {
		sub.UpdatedBy = *updatedBy
	}
	return sub, nil
}

// Find loads the submission for a period and organisation.
func (r *PGRepository) Find(ctx context.Context, periodID uuid.UUID, organisation string) (Submission, error) {
	sub, err := scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+`
FROM submissions s WHERE s.period_id = $1 AND s.organisation = $2`, periodID, organisation))
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, ErrSubmissionNotFound
	}
	if err != nil {
		return Submission{}, shared.Upstream("submissions: find", err)
	}
	values, err := loadValues(ctx, r.pool, []uuid.UUID{sub.ID})
	if err != nil {
		return Submission{}, err
	}
	sub.Values = values[sub.ID]
	return sub, nil
}

// Insert creates the submission row and its values in one transaction.
func (r *PGRepository) Insert(ctx context.Context, sub Submission) (Submission, error) {
	var saved Submission
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO submissions AS s (period_id, organisation, status, created_by, updated_by, created_at, updated_at, submitted_at)
SELECT $1, $2, $3, $4, $5, $6, $6, $7
FROM periods p WHERE p.id = $1 AND p.status = 'open'
RETURNING `+submissionColumns,
			sub.PeriodID, sub.Organisation, string(sub.Status), nullUUID(sub.CreatedBy), nullUUID(sub.UpdatedBy), sub.CreatedAt, sub.SubmittedAt)
		var err error
		saved, err = scanSubmission(row)
		if err != nil {
			return err
		}
		saved.Values = sub.Values
		return writeValues(ctx, tx, saved.ID, sub.Values)
	})
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Submission{}, ErrPeriodClosed
	case db.IsUniqueViolation(err):
		return Submission{}, ErrSubmissionExists
	default:
		return Submission{}, shared.Upstream("submissions: insert", err)
	}
}

// Update rewrites status and values for an existing submission.
func (r *PGRepository) Update(ctx context.Context, sub Submission) (Submission, error) {
	var saved Submission
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `UPDATE submissions AS s
SET status = $2, updated_by = $3, updated_at = $4, submitted_at = $5
FROM periods p
WHERE s.id = $1 AND p.id = s.period_id AND p.status = 'open'
RETURNING `+submissionColumns,
			sub.ID, string(sub.Status), nullUUID(sub.UpdatedBy), sub.UpdatedAt, sub.SubmittedAt)
		var err error
		saved, err = scanSubmission(row)
		if err != nil {
			return err
		}
		saved.Values = sub.Values
		return writeValues(ctx, tx, saved.ID, sub.Values)
	})
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, pgx.ErrNoRows):
		if _, findErr := r.byID(ctx, sub.ID); errors.Is(findErr, ErrSubmissionNotFound) {
			return Submission{}, ErrSubmissionNotFound
		}
		return Submission{}, ErrPeriodClosed
	default:
		return Submission{}, shared.Upstream("submissions: update", err)
	}
}

// ListByPeriod returns every submission for a period with its values.
func (r *PGRepository) ListByPeriod(ctx context.Context, periodID uuid.UUID) ([]Submission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+submissionColumns+`
FROM submissions s WHERE s.period_id = $1 ORDER BY s.organisation`, periodID)
	if err != nil {
		return nil, shared.Upstream("submissions: list", err)
	}
	defer rows.Close()
	var (
		out []Submission
		ids []uuid.UUID
	)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, shared.Upstream("submissions: scan", err)
		}
		out = append(out, sub)
		ids = append(ids, sub.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Upstream("submissions: list", err)
	}
	if len(ids) == 0 {
		return out, nil
	}
	values, err := loadValues(ctx, r.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Values = values[out[i].ID]
	}
	return out, nil
}

func (r *PGRepository) byID(ctx context.Context, id uuid.UUID) (Submission, error) {
	sub, err := scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, ErrSubmissionNotFound
	}
	if err != nil {
		return Submission{}, shared.Upstream("submissions: get", err)
	}
	return sub, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadValues reads input metrics only; the stored dist_total is never trusted.
func loadValues(ctx context.Context, q querier, ids []uuid.UUID) (map[uuid.UUID]Values, error) {
	rows, err := q.Query(ctx, `SELECT submission_id, metric_code, value
FROM submission_values WHERE submission_id = ANY($1::uuid[]) AND metric_code <> $2`, uuidStrings(ids), string(MetricTotal))
	if err != nil {
		return nil, shared.Upstream("submissions: load values", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]Values, len(ids))
	for rows.Next() {
		var (
			id    uuid.UUID
			code  string
			value float64
		)
		if err := rows.Scan(&id, &code, &value); err != nil {
			return nil, shared.Upstream("submissions: scan values", err)
		}
		metric, err := ParseMetricCode(code)
		if err != nil {
			continue
		}
		v := out[id]
		_ = v.Set(metric, value)
		out[id] = v
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Upstream("submissions: load values", err)
	}
	return out, nil
}

// writeValues upserts every input metric plus the recomputed total.
func writeValues(ctx context.Context, tx pgx.Tx, id uuid.UUID, v Values) error {
	codes := make([]string, 0, len(catalogue)+1)
	amounts := make([]float64, 0, len(catalogue)+1)
	for code, value := range v.Map() {
		codes = append(codes, string(code))
		amounts = append(amounts, value)
	}
	_, err := tx.Exec(ctx, `INSERT INTO submission_values (submission_id, metric_code, value)
SELECT $1, code, value FROM unnest($2::text[], $3::float8[]) AS t(code, value)
ON CONFLICT (submission_id, metric_code) DO UPDATE SET value = EXCLUDED.value`, id, codes, amounts)
	return err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
