package arrears

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
)

// Repository reads the lines an arrears report scans. Only visits and
// injections are ever returned.
type Repository interface {
	Rows(ctx context.Context, f Filter) ([]Row, error)
}

// PGRepository reads arrears rows from PostgreSQL.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL arrears repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{q: pool}
}

const rowColumns = `l.id, l.invoice_id, l.patient_id, l.work_date, l.shift, l.doctor_id, l.nurse_id, l.created_at,
	i.insurance_type, COALESCE(i.supplementary_insurance, ''), p.full_name, i.status`

const rowFilter = `
	WHERE ($1::date IS NULL OR l.work_date >= $1)
	  AND ($2::date IS NULL OR l.work_date <= $2)
	  AND ($3 = '' OR i.insurance_type = $3)
	ORDER BY l.work_date DESC, l.id DESC`

// Rows returns visits then injections inside the filter's work-date window.
func (r *PGRepository) Rows(ctx context.Context, f Filter) ([]Row, error) {
	args := []any{dateArg(f.From), dateArg(f.To), f.InsuranceType}

	visits, err := r.collect(ctx, `SELECT `+rowColumns+`, l.price
		FROM visits l JOIN invoices i ON i.id = l.invoice_id JOIN patients p ON p.id = l.patient_id`+rowFilter, args,
		func(rows pgx.Rows, row *Row) error {
			var v ledger.Visit
			if err := rows.Scan(append(rowTargets(&v.Common, row), &v.Price)...); err != nil {
				return err
			}
			row.Line = v
			return nil
		})
	if err != nil {
		return nil, err
	}
	injections, err := r.collect(ctx, `SELECT `+rowColumns+`, l.service_id, l.service_name, l.unit_price, l.count
		FROM injections l JOIN invoices i ON i.id = l.invoice_id JOIN patients p ON p.id = l.patient_id`+rowFilter, args,
		func(rows pgx.Rows, row *Row) error {
			var inj ledger.Injection
			if err := rows.Scan(append(rowTargets(&inj.Common, row), &inj.ServiceID, &inj.ServiceName, &inj.UnitPrice, &inj.Count)...); err != nil {
				return err
			}
			row.Line = inj
			return nil
		})
	if err != nil {
		return nil, err
	}
	return append(visits, injections...), nil
}

func (r *PGRepository) collect(ctx context.Context, sql string, args []any, scan func(pgx.Rows, *Row) error) ([]Row, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var row Row
		if err := scan(rows, &row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func rowTargets(c *ledger.Common, row *Row) []any {
	return []any{&c.ID, &c.InvoiceID, &c.PatientID, &c.WorkDate, &c.Shift, &c.DoctorID, &c.NurseID, &c.CreatedAt,
		&row.InsuranceType, &row.Supplementary, &row.PatientName, &row.InvoiceStatus}
}

func dateArg(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return db.Date(*t)
}
