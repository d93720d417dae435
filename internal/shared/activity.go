package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Activity names an action recorded in activity_log.
type Activity struct {
	Actor    Actor
	Action   string
	Entity   string
	EntityID int64
	Meta     map[string]any
	At       time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActivityRecorder writes records into activity_log.
type ActivityRecorder struct {
	db execer
}

// NewActivityRecorder returns a recorder backed by the given pool or transaction.
func NewActivityRecorder(db execer) *ActivityRecorder {
	return &ActivityRecorder{db: db}
}

// Record persists the entry.
func (r *ActivityRecorder) Record(ctx context.Context, a Activity) error {
	if r == nil || r.db == nil {
		return errors.New("activity recorder not initialised")
	}
	if a.Action == "" || a.Entity == "" || a.EntityID == 0 {
		return errors.New("activity requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(a.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !a.At.IsZero() {
		at = &a.At
	}
	_, err = r.db.Exec(ctx, `INSERT INTO activity_log (actor_id, actor_name, role, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		a.Actor.ID, a.Actor.Name(), string(a.Actor.Role), a.Action, a.Entity, strconv.FormatInt(a.EntityID, 10), metaJSON, at)
	return err
}
