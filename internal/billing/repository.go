package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// Reader loads invoice state. The pool and transactions both implement it.
type Reader interface {
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListLines(ctx context.Context, invoiceID int64) ([]ledger.Line, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]PaymentRecord, error)
	StaffNames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Reader
	// LockInvoice loads the invoice row FOR UPDATE.
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InsertLine(ctx context.Context, line ledger.Line) (int64, error)
	DeleteLine(ctx context.Context, invoiceID int64, itemType ledger.ItemType, itemID int64) error
	UpsertPayment(ctx context.Context, p PaymentRecord) error
	DeletePayment(ctx context.Context, invoiceID int64, itemType ledger.ItemType, itemID int64) error
	UpdateTotal(ctx context.Context, invoiceID int64, total decimal.Decimal) error
	// MarkClosed flips an open invoice to closed and reports whether a row changed.
	MarkClosed(ctx context.Context, invoiceID int64, by, byName string, at time.Time) (bool, error)
	// Savepoint runs fn so that its failure discards only its own writes.
	Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Repository is the persistence port of the billing service.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListOpen(ctx context.Context, limit int) ([]Invoice, error)
	// LatestInsurance returns the insurance of the patient's newest invoice.
	LatestInsurance(ctx context.Context, patientID int64) (string, *string, error)
}

// PGRepository is the PostgreSQL implementation of Repository.
type PGRepository struct {
	reader
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{reader: reader{q: pool}, pool: pool}
}

type txRepo struct {
	reader
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{reader: reader{q: tx}, tx: tx})
	})
}

func (t *txRepo) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.Savepoint(ctx, t.tx, func(ctx context.Context, nested pgx.Tx) error {
		return fn(ctx, &txRepo{reader: reader{q: nested}, tx: nested})
	})
}

type reader struct {
	q db.Querier
}

const invoiceColumns = `i.id, i.patient_id, COALESCE(p.full_name, ''), i.insurance_type, i.supplementary_insurance,
	i.status, i.opened_by, i.opened_by_name, i.opened_at, COALESCE(i.closed_by, ''), COALESCE(i.closed_by_name, ''),
	i.closed_at, i.work_date, i.shift, i.total_amount`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.PatientName, &inv.InsuranceType, &inv.SupplementaryInsurance,
		&status, &inv.OpenedBy, &inv.OpenedByName, &inv.OpenedAt, &inv.ClosedBy, &inv.ClosedByName,
		&inv.ClosedAt, &inv.WorkDate, &inv.Shift, &inv.TotalAmount)
	inv.Status = Status(status)
	return inv, err
}

func (r reader) loadInvoice(ctx context.Context, id int64, lock bool) (Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM invoices i LEFT JOIN patients p ON p.id = i.patient_id WHERE i.id = $1`
	if lock {
		sql += ` FOR UPDATE OF i`
	}
	inv, err := scanInvoice(r.q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	return inv, err
}

func (r reader) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return r.loadInvoice(ctx, id, false)
}

func (t *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return t.loadInvoice(ctx, id, true)
}

// ListLines reads the four ledgers of an invoice.
func (r reader) ListLines(ctx context.Context, invoiceID int64) ([]ledger.Line, error) {
	var out []ledger.Line
	loaders := []func(context.Context, int64) ([]ledger.Line, error){
		r.listVisits, r.listInjections, r.listProcedures, r.listConsumables,
	}
	for _, load := range loaders {
		lines, err := load(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

const commonColumns = `id, invoice_id, patient_id, work_date, shift, doctor_id, nurse_id, COALESCE(notes, ''), created_at`

func commonTargets(c *ledger.Common) []any {
	return []any{&c.ID, &c.InvoiceID, &c.PatientID, &c.WorkDate, &c.Shift, &c.DoctorID, &c.NurseID, &c.Notes, &c.CreatedAt}
}

func collect(ctx context.Context, q db.Querier, sql string, invoiceID int64, scan func(pgx.Rows) (ledger.Line, error)) ([]ledger.Line, error) {
	rows, err := q.Query(ctx, sql, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Line
	for rows.Next() {
		line, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (r reader) listVisits(ctx context.Context, invoiceID int64) ([]ledger.Line, error) {
	return collect(ctx, r.q, `SELECT `+commonColumns+`, price FROM visits WHERE invoice_id = $1 ORDER BY id`, invoiceID,
		func(rows pgx.Rows) (ledger.Line, error) {
			var v ledger.Visit
			err := rows.Scan(append(commonTargets(&v.Common), &v.Price)...)
			return v, err
		})
}

func (r reader) listInjections(ctx context.Context, invoiceID int64) ([]ledger.Line, error) {
	return collect(ctx, r.q, `SELECT `+commonColumns+`, service_id, service_name, unit_price, count FROM injections WHERE invoice_id = $1 ORDER BY id`, invoiceID,
		func(rows pgx.Rows) (ledger.Line, error) {
			var i ledger.Injection
			err := rows.Scan(append(commonTargets(&i.Common), &i.ServiceID, &i.ServiceName, &i.UnitPrice, &i.Count)...)
			return i, err
		})
}

func (r reader) listProcedures(ctx context.Context, invoiceID int64) ([]ledger.Line, error) {
	return collect(ctx, r.q, `SELECT `+commonColumns+`, procedure_id, name, performer_type, unit_price, quantity FROM procedures WHERE invoice_id = $1 ORDER BY id`, invoiceID,
		func(rows pgx.Rows) (ledger.Line, error) {
			var p ledger.Procedure
			var performer string
			err := rows.Scan(append(commonTargets(&p.Common), &p.ProcedureID, &p.Name, &performer, &p.UnitPrice, &p.Quantity)...)
			p.PerformerType = ledger.Performer(performer)
			return p, err
		})
}

func (r reader) listConsumables(ctx context.Context, invoiceID int64) ([]ledger.Line, error) {
	return collect(ctx, r.q, `SELECT `+commonColumns+`, item_name, category, unit_price, quantity, patient_provided, is_exception FROM consumables WHERE invoice_id = $1 ORDER BY id`, invoiceID,
		func(rows pgx.Rows) (ledger.Line, error) {
			var c ledger.Consumable
			var category string
			err := rows.Scan(append(commonTargets(&c.Common), &c.ItemName, &category, &c.UnitPrice, &c.Quantity, &c.PatientProvided, &c.IsException)...)
			c.Category = ledger.Category(category)
			return c, err
		})
}

func (r reader) ListPayments(ctx context.Context, invoiceID int64) ([]PaymentRecord, error) {
	rows, err := r.q.Query(ctx, `SELECT invoice_id, item_type, item_id, channel, is_paid, updated_at
		FROM payments WHERE invoice_id = $1 ORDER BY item_type, item_id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentRecord
	for rows.Next() {
		var p PaymentRecord
		var itemType string
		var channel *string
		if err := rows.Scan(&p.InvoiceID, &itemType, &p.ItemID, &channel, &p.IsPaid, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ItemType = ledger.ItemType(itemType)
		if channel != nil {
			ch := Channel(*channel)
			p.Channel = &ch
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r reader) StaffNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	rows, err := r.q.Query(ctx, `SELECT id, full_name FROM staff WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (patient_id, insurance_type, supplementary_insurance, status,
		opened_by, opened_by_name, opened_at, work_date, shift, total_amount)
		VALUES ($1, $2, $3, 'open', $4, $5, $6, $7, $8, 0)
		RETURNING id`,
		inv.PatientID, inv.InsuranceType, inv.SupplementaryInsurance, inv.OpenedBy, inv.OpenedByName,
		inv.OpenedAt, db.Date(inv.WorkDate), inv.Shift).Scan(&inv.ID)
	if shared.IsForeignKeyViolation(err) {
		return Invoice{}, fmt.Errorf("patient %d: %w", inv.PatientID, shared.ErrNotFound)
	}
	if err != nil {
		return Invoice{}, err
	}
	inv.Status = StatusOpen
	inv.TotalAmount = decimal.Zero
	return inv, nil
}

func (t *txRepo) InsertLine(ctx context.Context, line ledger.Line) (int64, error) {
	c := line.Base()
	common := []any{c.InvoiceID, c.PatientID, db.Date(c.WorkDate), c.Shift, c.DoctorID, c.NurseID, c.Notes}
	var row pgx.Row
	switch l := line.(type) {
	case ledger.Visit:
		row = t.tx.QueryRow(ctx, `INSERT INTO visits (invoice_id, patient_id, work_date, shift, doctor_id, nurse_id, notes, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`, append(common, l.Price)...)
	case ledger.Injection:
		row = t.tx.QueryRow(ctx, `INSERT INTO injections (invoice_id, patient_id, work_date, shift, doctor_id, nurse_id, notes,
			service_id, service_name, unit_price, count, total_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
			append(common, l.ServiceID, l.ServiceName, l.UnitPrice, l.Count, l.RecordedPrice())...)
	case ledger.Procedure:
		row = t.tx.QueryRow(ctx, `INSERT INTO procedures (invoice_id, patient_id, work_date, shift, doctor_id, nurse_id, notes,
			procedure_id, name, performer_type, unit_price, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
			append(common, l.ProcedureID, l.Name, string(l.PerformerType), l.UnitPrice, l.Quantity, l.RecordedPrice())...)
	case ledger.Consumable:
		row = t.tx.QueryRow(ctx, `INSERT INTO consumables (invoice_id, patient_id, work_date, shift, doctor_id, nurse_id, notes,
			item_name, category, unit_price, quantity, total_cost, patient_provided, is_exception)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
			append(common, l.ItemName, string(l.Category), l.UnitPrice, l.Quantity, l.RecordedPrice(), l.PatientProvided, l.IsException)...)
	default:
		return 0, fmt.Errorf("billing: unsupported line %T", line)
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

var lineTables = map[ledger.ItemType]string{
	ledger.TypeVisit:      "visits",
	ledger.TypeInjection:  "injections",
	ledger.TypeProcedure:  "procedures",
	ledger.TypeConsumable: "consumables",
}

func (t *txRepo) DeleteLine(ctx context.Context, invoiceID int64, itemType ledger.ItemType, itemID int64) error {
	table, ok := lineTables[itemType]
	if !ok {
		return shared.Invalid("item_type", "must be one of visit injection procedure consumable")
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1 AND invoice_id = $2`, itemID, invoiceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %d: %w", itemType, itemID, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) UpsertPayment(ctx context.Context, p PaymentRecord) error {
	var channel *string
	if p.Channel != nil {
		ch := string(*p.Channel)
		channel = &ch
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO payments (invoice_id, item_type, item_id, channel, is_paid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (invoice_id, item_type, item_id)
		DO UPDATE SET channel = EXCLUDED.channel, is_paid = EXCLUDED.is_paid, updated_at = EXCLUDED.updated_at`,
		p.InvoiceID, string(p.ItemType), p.ItemID, channel, p.IsPaid, p.UpdatedAt)
	return err
}

func (t *txRepo) DeletePayment(ctx context.Context, invoiceID int64, itemType ledger.ItemType, itemID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE invoice_id = $1 AND item_type = $2 AND item_id = $3`,
		invoiceID, string(itemType), itemID)
	return err
}

func (t *txRepo) UpdateTotal(ctx context.Context, invoiceID int64, total decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET total_amount = $2 WHERE id = $1`, invoiceID, total)
	return err
}

func (t *txRepo) MarkClosed(ctx context.Context, invoiceID int64, by, byName string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status = 'closed', closed_by = $2, closed_by_name = $3, closed_at = $4
		WHERE id = $1 AND status = 'open'`, invoiceID, by, byName, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpen returns open invoices, newest first.
func (r *PGRepository) ListOpen(ctx context.Context, limit int) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices i LEFT JOIN patients p ON p.id = i.patient_id
		WHERE i.status = 'open' ORDER BY i.opened_at DESC, i.id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *PGRepository) LatestInsurance(ctx context.Context, patientID int64) (string, *string, error) {
	var insurance string
	var supplementary *string
	err := r.pool.QueryRow(ctx, `SELECT insurance_type, supplementary_insurance FROM invoices
		WHERE patient_id = $1 ORDER BY opened_at DESC, id DESC LIMIT 1`, patientID).Scan(&insurance, &supplementary)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, fmt.Errorf("patient %d invoices: %w", patientID, shared.ErrNotFound)
	}
	return insurance, supplementary, err
}
