package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
)

// Repository reads activity_log.
type Repository interface {
	Timeline(ctx context.Context, p WindowParams) ([]TimelineRow, error)
}

// PGRepository is the PostgreSQL Repository.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a repository backed by the pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{q: pool}
}

// Timeline returns rows newest first. A zero Limit returns every matching row.
func (r *PGRepository) Timeline(ctx context.Context, p WindowParams) ([]TimelineRow, error) {
	var limit *int
	if p.Limit > 0 {
		limit = &p.Limit
	}
	rows, err := r.q.Query(ctx, `SELECT occurred_at, actor_id, actor_name, role, action, entity, entity_id, meta
		FROM activity_log
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at < $2)
		  AND ($3::bigint IS NULL OR actor_id = $3)
		  AND ($4::text IS NULL OR entity = $4)
		  AND ($5::text IS NULL OR entity_id = $5)
		  AND ($6::text IS NULL OR action = $6)
		ORDER BY occurred_at DESC, id DESC
		OFFSET $7 LIMIT $8`,
		p.From, p.To, p.ActorID, p.Entity, p.EntityID, p.Action, p.Offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var meta []byte
		if err := rows.Scan(&row.At, &row.ActorID, &row.ActorName, &row.Role, &row.Action, &row.Entity, &row.EntityID, &meta); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &row.Meta)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
