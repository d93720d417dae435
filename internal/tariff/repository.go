package tariff

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-clinic/internal/platform/db"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// Repository persists tariffs, exclusions and price lists in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, insurance_type, tariff_price, is_active, is_base_tariff, is_supplementary, nursing_covers`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.InsuranceType, &e.TariffPrice, &e.IsActive, &e.IsBaseTariff, &e.IsSupplementary, &e.NursingCovers)
	return e, err
}

// ListEntries returns every tariff row ordered by id so "first match wins" is stable.
func (r *Repository) ListEntries(ctx context.Context) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM tariffs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEntry loads one tariff row.
func (r *Repository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM tariffs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("tariff %d: %w", id, shared.ErrNotFound)
	}
	return e, err
}

// BaseEntry loads the base tariff row.
func (r *Repository) BaseEntry(ctx context.Context) (Entry, error) {
	e, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM tariffs WHERE is_base_tariff ORDER BY is_active DESC, id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("base tariff: %w", shared.ErrNotFound)
	}
	return e, err
}

// InsertEntry creates a tariff row.
func (r *Repository) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	const query = `INSERT INTO tariffs (insurance_type, tariff_price, is_active, is_base_tariff, is_supplementary, nursing_covers)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING ` + entryColumns
	out, err := scanEntry(r.pool.QueryRow(ctx, query, e.InsuranceType, e.TariffPrice, e.IsActive, e.IsBaseTariff, e.IsSupplementary, e.NursingCovers))
	if err != nil {
		return Entry{}, shared.MapDuplicate(err)
	}
	return out, nil
}

// UpdateEntry overwrites the editable columns of a tariff row.
func (r *Repository) UpdateEntry(ctx context.Context, e Entry) (Entry, error) {
	const query = `UPDATE tariffs SET insurance_type = $2, tariff_price = $3, is_active = $4, is_supplementary = $5, nursing_covers = $6
WHERE id = $1 RETURNING ` + entryColumns
	out, err := scanEntry(r.pool.QueryRow(ctx, query, e.ID, e.InsuranceType, e.TariffPrice, e.IsActive, e.IsSupplementary, e.NursingCovers))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("tariff %d: %w", e.ID, shared.ErrNotFound)
	}
	if err != nil {
		return Entry{}, shared.MapDuplicate(err)
	}
	return out, nil
}

// DeleteEntry removes a non-base tariff row.
func (r *Repository) DeleteEntry(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tariffs WHERE id = $1 AND NOT is_base_tariff`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tariff %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ListExclusions returns exclusions for one insurer, or all when insuranceType is empty.
func (r *Repository) ListExclusions(ctx context.Context, insuranceType string) ([]Exclusion, error) {
	query := `SELECT insurance_type, nursing_service_id FROM nursing_exclusions`
	args := []any{}
	if insuranceType != "" {
		query += ` WHERE insurance_type = $1`
		args = append(args, insuranceType)
	}
	query += ` ORDER BY insurance_type, nursing_service_id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exclusion
	for rows.Next() {
		var x Exclusion
		if err := rows.Scan(&x.InsuranceType, &x.NursingServiceID); err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// ReplaceExclusions swaps the insurer's exclusion set in one transaction.
func (r *Repository) ReplaceExclusions(ctx context.Context, insuranceType string, serviceIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM nursing_exclusions WHERE insurance_type = $1`, insuranceType); err != nil {
			return err
		}
		for _, id := range serviceIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO nursing_exclusions (insurance_type, nursing_service_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, insuranceType, id); err != nil {
				return err
			}
		}
		return nil
	})
}

var itemTables = map[Kind]string{
	KindNursing:    "nursing_services",
	KindProcedure:  "procedure_tariffs",
	KindConsumable: "consumable_tariffs",
}

func itemTable(kind Kind) (string, error) {
	table, ok := itemTables[kind]
	if !ok {
		return "", shared.Invalid("kind", "must be one of nursing procedure consumable")
	}
	return table, nil
}

func itemColumns(kind Kind) string {
	if kind == KindConsumable {
		return `id, name, unit_price, category, is_active`
	}
	return `id, name, unit_price, '' AS category, is_active`
}

func scanItem(kind Kind, row pgx.Row) (CatalogItem, error) {
	item := CatalogItem{Kind: kind}
	err := row.Scan(&item.ID, &item.Name, &item.UnitPrice, &item.Category, &item.IsActive)
	return item, err
}

// ListItems returns a price list, optionally only active rows.
func (r *Repository) ListItems(ctx context.Context, kind Kind, activeOnly bool) ([]CatalogItem, error) {
	table, err := itemTable(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + itemColumns(kind) + ` FROM ` + table
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CatalogItem
	for rows.Next() {
		item, err := scanItem(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetItem loads one price-list row regardless of its active flag.
func (r *Repository) GetItem(ctx context.Context, kind Kind, id int64) (CatalogItem, error) {
	table, err := itemTable(kind)
	if err != nil {
		return CatalogItem{}, err
	}
	item, err := scanItem(kind, r.pool.QueryRow(ctx, `SELECT `+itemColumns(kind)+` FROM `+table+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CatalogItem{}, fmt.Errorf("%s item %d: %w", kind, id, shared.ErrNotFound)
	}
	return item, err
}

// InsertItem creates an active price-list row.
func (r *Repository) InsertItem(ctx context.Context, item CatalogItem) (CatalogItem, error) {
	table, err := itemTable(item.Kind)
	if err != nil {
		return CatalogItem{}, err
	}
	var row pgx.Row
	if item.Kind == KindConsumable {
		row = r.pool.QueryRow(ctx, `INSERT INTO `+table+` (name, unit_price, category, is_active) VALUES ($1, $2, $3, TRUE) RETURNING `+itemColumns(item.Kind), item.Name, item.UnitPrice, item.Category)
	} else {
		row = r.pool.QueryRow(ctx, `INSERT INTO `+table+` (name, unit_price, is_active) VALUES ($1, $2, TRUE) RETURNING `+itemColumns(item.Kind), item.Name, item.UnitPrice)
	}
	out, err := scanItem(item.Kind, row)
	if err != nil {
		return CatalogItem{}, shared.MapDuplicate(err)
	}
	return out, nil
}

// UpdateItem changes the name, price and category of a price-list row.
func (r *Repository) UpdateItem(ctx context.Context, item CatalogItem) (CatalogItem, error) {
	table, err := itemTable(item.Kind)
	if err != nil {
		return CatalogItem{}, err
	}
	var row pgx.Row
	if item.Kind == KindConsumable {
		row = r.pool.QueryRow(ctx, `UPDATE `+table+` SET name = $2, unit_price = $3, category = $4 WHERE id = $1 RETURNING `+itemColumns(item.Kind), item.ID, item.Name, item.UnitPrice, item.Category)
	} else {
		row = r.pool.QueryRow(ctx, `UPDATE `+table+` SET name = $2, unit_price = $3 WHERE id = $1 RETURNING `+itemColumns(item.Kind), item.ID, item.Name, item.UnitPrice)
	}
	out, err := scanItem(item.Kind, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CatalogItem{}, fmt.Errorf("%s item %d: %w", item.Kind, item.ID, shared.ErrNotFound)
	}
	if err != nil {
		return CatalogItem{}, shared.MapDuplicate(err)
	}
	return out, nil
}

// SetItemActive flips the soft-delete flag.
func (r *Repository) SetItemActive(ctx context.Context, kind Kind, id int64, active bool) error {
	table, err := itemTable(kind)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE `+table+` SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s item %d: %w", kind, id, shared.ErrNotFound)
	}
	return nil
}
