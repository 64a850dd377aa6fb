package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vma-portal/portal/internal/shared"
)

// Repository reads audit_logs.
type Repository interface {
	// Window returns up to limit rows matching filters, newest first, skipping offset.
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type whereBuilder struct {
	clauses []string
	args    []any
}

func (b *whereBuilder) add(clause string, arg any) {
	b.args = append(b.args, arg)
	b.clauses = append(b.clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(b.args))))
}

func (b *whereBuilder) sql() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

// Window implements Repository.
func (r *PGRepository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	var where whereBuilder
	if !filters.From.IsZero() {
		where.add("a.occurred_at >= ?", filters.From)
	}
	if !filters.To.IsZero() {
		where.add("a.occurred_at < ?", filters.To)
	}
	if filters.Actor != "" {
		where.add("lower(u.email) = lower(?)", filters.Actor)
	}
	if filters.Entity != "" {
		where.add("a.entity = ?", filters.Entity)
	}
	if filters.EntityID != "" {
		where.add("a.entity_id = ?", filters.EntityID)
	}
	if filters.Action != "" {
		where.add("a.action = ?", filters.Action)
	}
	args := append(where.args, limit, offset)
	query := `SELECT a.occurred_at, a.actor_id, COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id` + where.sql() + `
ORDER BY a.occurred_at DESC, a.id DESC
LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Upstream("audit: timeline", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var (
			row     TimelineRow
			at      time.Time
			actorID *uuid.UUID
			meta    []byte
		)
		if err := rows.Scan(&at, &actorID, &row.Actor, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, shared.Upstream("audit: scan timeline", err)
		}
		row.At = at
		if actorID != nil {
			row.ActorID = *actorID
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &row.Meta); err != nil {
				return nil, shared.Upstream("audit: decode meta", err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Upstream("audit: timeline", err)
	}
	return out, nil
}
