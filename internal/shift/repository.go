package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// PGRepository stores shifts in PostgreSQL.
type PGRepository struct {
	db db.Querier
}

// NewRepository constructs a PGRepository.
func NewRepository(q db.Querier) *PGRepository {
	return &PGRepository{db: q}
}

// InitActorShift inserts the default shift or returns the existing one untouched.
func (r *PGRepository) InitActorShift(ctx context.Context, s ActorShift) (ActorShift, error) {
	const query = `INSERT INTO user_shifts (actor_id, shift, work_date, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (actor_id) DO UPDATE SET actor_id = EXCLUDED.actor_id
RETURNING actor_id, shift, work_date, started_at`
	var out ActorShift
	var name string
	var workDate pgtype.Date
	err := r.db.QueryRow(ctx, query, s.ActorID, string(s.Shift), db.Date(s.WorkDate), s.StartedAt).
		Scan(&out.ActorID, &name, &workDate, &out.StartedAt)
	if err != nil {
		return ActorShift{}, err
	}
	out.Shift = Name(name)
	out.WorkDate = workDate.Time
	return out, nil
}

// SaveActorShift replaces the actor's current shift.
func (r *PGRepository) SaveActorShift(ctx context.Context, s ActorShift) error {
	const query = `INSERT INTO user_shifts (actor_id, shift, work_date, started_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (actor_id) DO UPDATE SET shift = EXCLUDED.shift, work_date = EXCLUDED.work_date, started_at = EXCLUDED.started_at`
	_, err := r.db.Exec(ctx, query, s.ActorID, string(s.Shift), db.Date(s.WorkDate), s.StartedAt)
	return err
}

// MergeAssignment upserts shift staff in one statement; set slots are never overwritten.
func (r *PGRepository) MergeAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	const query = `INSERT INTO shift_staff (work_date, shift, doctor_id, nurse_id, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (work_date, shift) DO UPDATE SET
	doctor_id = COALESCE(shift_staff.doctor_id, EXCLUDED.doctor_id),
	nurse_id = COALESCE(shift_staff.nurse_id, EXCLUDED.nurse_id),
	updated_at = NOW()
RETURNING doctor_id, nurse_id`
	out := Assignment{WorkDate: a.WorkDate, Shift: a.Shift}
	if err := r.db.QueryRow(ctx, query, db.Date(a.WorkDate), string(a.Shift), a.DoctorID, a.NurseID).Scan(&out.DoctorID, &out.NurseID); err != nil {
		return Assignment{}, fmt.Errorf("merge shift staff: %w", err)
	}
	return r.LoadAssignment(ctx, out.WorkDate, out.Shift)
}

// LoadAssignment reads the duty roster with staff display names.
func (r *PGRepository) LoadAssignment(ctx context.Context, workDate time.Time, shift Name) (Assignment, error) {
	const query = `SELECT ss.doctor_id, COALESCE(d.full_name, ''), ss.nurse_id, COALESCE(n.full_name, '')
FROM shift_staff ss
LEFT JOIN staff d ON d.id = ss.doctor_id
LEFT JOIN staff n ON n.id = ss.nurse_id
WHERE ss.work_date = $1 AND ss.shift = $2`
	out := Assignment{WorkDate: workDate, Shift: shift}
	err := r.db.QueryRow(ctx, query, db.Date(workDate), string(shift)).Scan(&out.DoctorID, &out.DoctorName, &out.NurseID, &out.NurseName)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, shared.ErrNotFound
	}
	if err != nil {
		return Assignment{}, err
	}
	return out, nil
}
