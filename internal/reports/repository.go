package reports

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
)

// Repository reads report rows.
type Repository interface {
	ConsumableUsage(ctx context.Context, f ConsumableFilter) ([]ConsumableUsage, error)
}

// PGRepository reads reports from PostgreSQL.
type PGRepository struct {
	q db.Querier
}

// NewRepository constructs a PostgreSQL report repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{q: pool}
}

// ConsumableUsage lists center-provided, non-exception consumables of closed invoices.
func (r *PGRepository) ConsumableUsage(ctx context.Context, f ConsumableFilter) ([]ConsumableUsage, error) {
	rows, err := r.q.Query(ctx, `SELECT c.id, c.invoice_id, c.work_date, c.created_at, p.full_name, c.item_name, c.category,
			c.quantity, c.unit_price, c.total_cost, c.shift, COALESCE(c.notes, '')
		FROM consumables c
		JOIN invoices i ON i.id = c.invoice_id AND i.status = 'closed'
		JOIN patients p ON p.id = c.patient_id
		WHERE c.work_date BETWEEN $1 AND $2
		  AND NOT c.patient_provided AND NOT c.is_exception
		  AND ($3 = '' OR c.item_name ILIKE '%' || $3 || '%')
		  AND ($4 = '' OR c.category = $4)
		  AND ($5 = '' OR c.shift = $5)
		ORDER BY c.created_at DESC, c.id DESC`,
		db.Date(f.From), db.Date(f.To), f.ItemName, string(f.Category), f.Shift)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConsumableUsage
	for rows.Next() {
		var u ConsumableUsage
		var category string
		if err := rows.Scan(&u.ID, &u.InvoiceID, &u.WorkDate, &u.UsedAt, &u.PatientName, &u.ItemName, &category,
			&u.Quantity, &u.UnitPrice, &u.TotalCost, &u.Shift, &u.Notes); err != nil {
			return nil, err
		}
		u.Category = ledger.Category(category)
		out = append(out, u)
	}
	return out, rows.Err()
}
