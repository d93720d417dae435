package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// Repository persists patients.
type Repository interface {
	Get(ctx context.Context, id int64) (Patient, error)
	ByNationalID(ctx context.Context, nationalID string) (Patient, error)
	ByNameAndPhone(ctx context.Context, firstName, lastName, phone string) (Patient, error)
	Insert(ctx context.Context, p Patient) (Patient, error)
	Update(ctx context.Context, p Patient) (Patient, error)
	Search(ctx context.Context, query string, limit int) ([]Patient, error)
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const patientColumns = `id, first_name, last_name, national_id, phone, is_foreign, COALESCE(insurance_type, ''), created_by, created_at`

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &p.NationalID, &p.Phone, &p.IsForeign, &p.InsuranceType, &p.CreatedBy, &p.CreatedAt)
	return p, err
}

func (r *PGRepository) one(ctx context.Context, what, sql string, args ...any) (Patient, error) {
	p, err := scanPatient(r.pool.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE `+sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, fmt.Errorf("patient %s: %w", what, shared.ErrNotFound)
	}
	return p, err
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Patient, error) {
	return r.one(ctx, fmt.Sprint(id), `id = $1`, id)
}

func (r *PGRepository) ByNationalID(ctx context.Context, nationalID string) (Patient, error) {
	return r.one(ctx, "by national id", `national_id = $1`, nationalID)
}

func (r *PGRepository) ByNameAndPhone(ctx context.Context, firstName, lastName, phone string) (Patient, error) {
	return r.one(ctx, "by name and phone", `first_name = $1 AND last_name = $2 AND phone = $3 ORDER BY id LIMIT 1`, firstName, lastName, phone)
}

func (r *PGRepository) Insert(ctx context.Context, p Patient) (Patient, error) {
	out, err := scanPatient(r.pool.QueryRow(ctx, `INSERT INTO patients (first_name, last_name, full_name, national_id, phone, is_foreign, insurance_type, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING `+patientColumns,
		p.FirstName, p.LastName, p.FullName(), p.NationalID, p.Phone, p.IsForeign, p.InsuranceType, p.CreatedBy))
	if err != nil {
		return Patient{}, shared.MapDuplicate(err)
	}
	return out, nil
}

func (r *PGRepository) Update(ctx context.Context, p Patient) (Patient, error) {
	out, err := scanPatient(r.pool.QueryRow(ctx, `UPDATE patients
		SET first_name = $2, last_name = $3, full_name = $4, phone = $5, is_foreign = $6, insurance_type = NULLIF($7, '')
		WHERE id = $1
		RETURNING `+patientColumns,
		p.ID, p.FirstName, p.LastName, p.FullName(), p.Phone, p.IsForeign, p.InsuranceType))
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, fmt.Errorf("patient %d: %w", p.ID, shared.ErrNotFound)
	}
	return out, err
}

func (r *PGRepository) Search(ctx context.Context, query string, limit int) ([]Patient, error) {
	pattern := "%" + strings.ReplaceAll(strings.ReplaceAll(query, "%", `\%`), "_", `\_`) + "%"
	rows, err := r.pool.Query(ctx, `SELECT `+patientColumns+` FROM patients
		WHERE full_name ILIKE $1 OR national_id LIKE $1 OR phone LIKE $1
		ORDER BY id DESC LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
