package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/shift"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
)

type memoryState struct {
	invoices map[int64]Invoice
	lines    map[paymentKey]ledger.Line
	order    []paymentKey
	payments map[paymentKey]PaymentRecord
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		invoices: make(map[int64]Invoice, len(s.invoices)),
		lines:    make(map[paymentKey]ledger.Line, len(s.lines)),
		order:    append([]paymentKey(nil), s.order...),
		payments: make(map[paymentKey]PaymentRecord, len(s.payments)),
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	return out
}

// memoryRepo is an in-memory Repository whose transactions roll back on error.
type memoryRepo struct {
	state       memoryState
	staff       map[int64]string
	nextInvoice int64
	nextLine    int64
	clock       time.Time
	failPayment func(PaymentRecord) error
	failTotal   error
	totalWrites int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: memoryState{
			invoices: map[int64]Invoice{},
			lines:    map[paymentKey]ledger.Line{},
			payments: map[paymentKey]PaymentRecord{},
		},
		staff: map[int64]string{},
		clock: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	saved := m.state.clone()
	if err := fn(ctx, m); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *memoryRepo) Savepoint(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return m.WithTx(ctx, fn)
}

func (m *memoryRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := m.state.invoices[id]
	if !ok {
		return Invoice{}, fmt.Errorf("invoice %d: %w", id, shared.ErrNotFound)
	}
	return inv, nil
}

func (m *memoryRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memoryRepo) ListLines(ctx context.Context, invoiceID int64) ([]ledger.Line, error) {
	var out []ledger.Line
	for _, key := range m.state.order {
		line, ok := m.state.lines[key]
		if ok && line.Base().InvoiceID == invoiceID {
			out = append(out, line)
		}
	}
	return out, nil
}

func (m *memoryRepo) ListPayments(ctx context.Context, invoiceID int64) ([]PaymentRecord, error) {
	var out []PaymentRecord
	for _, p := range m.state.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *memoryRepo) StaffNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if name, ok := m.staff[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	m.nextInvoice++
	inv.ID = m.nextInvoice
	inv.Status = StatusOpen
	inv.TotalAmount = decimal.Zero
	m.state.invoices[inv.ID] = inv
	return inv, nil
}

// InsertLine stamps ids and strictly increasing creation times.
func (m *memoryRepo) InsertLine(ctx context.Context, line ledger.Line) (int64, error) {
	m.nextLine++
	m.clock = m.clock.Add(time.Minute)
	id, at := m.nextLine, m.clock
	switch l := line.(type) {
	case ledger.Visit:
		l.ID, l.CreatedAt = id, at
		line = l
	case ledger.Injection:
		l.ID, l.CreatedAt = id, at
		line = l
	case ledger.Procedure:
		l.ID, l.CreatedAt = id, at
		line = l
	case ledger.Consumable:
		l.ID, l.CreatedAt = id, at
		line = l
	default:
		return 0, errors.New("unsupported line")
	}
	key := paymentKey{line.Type(), id}
	m.state.lines[key] = line
	m.state.order = append(m.state.order, key)
	return id, nil
}

func (m *memoryRepo) DeleteLine(ctx context.Context, invoiceID int64, itemType ledger.ItemType, itemID int64) error {
	key := paymentKey{itemType, itemID}
	line, ok := m.state.lines[key]
	if !ok || line.Base().InvoiceID != invoiceID {
		return fmt.Errorf("%s %d: %w", itemType, itemID, shared.ErrNotFound)
	}
	delete(m.state.lines, key)
	return nil
}

func (m *memoryRepo) UpsertPayment(ctx context.Context, p PaymentRecord) error {
	if m.failPayment != nil {
		if err := m.failPayment(p); err != nil {
			return err
		}
	}
	m.state.payments[paymentKey{p.ItemType, p.ItemID}] = p
	return nil
}

func (m *memoryRepo) DeletePayment(ctx context.Context, invoiceID int64, itemType ledger.ItemType, itemID int64) error {
	delete(m.state.payments, paymentKey{itemType, itemID})
	return nil
}

func (m *memoryRepo) UpdateTotal(ctx context.Context, invoiceID int64, total decimal.Decimal) error {
	if m.failTotal != nil {
		return m.failTotal
	}
	m.totalWrites++
	inv := m.state.invoices[invoiceID]
	inv.TotalAmount = total
	m.state.invoices[invoiceID] = inv
	return nil
}

func (m *memoryRepo) MarkClosed(ctx context.Context, invoiceID int64, by, byName string, at time.Time) (bool, error) {
	inv, ok := m.state.invoices[invoiceID]
	if !ok || inv.Status != StatusOpen {
		return false, nil
	}
	inv.Status = StatusClosed
	inv.ClosedBy = by
	inv.ClosedByName = byName
	inv.ClosedAt = &at
	m.state.invoices[invoiceID] = inv
	return true, nil
}

func (m *memoryRepo) ListOpen(ctx context.Context, limit int) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.state.invoices {
		if inv.Status == StatusOpen {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryRepo) LatestInsurance(ctx context.Context, patientID int64) (string, *string, error) {
	var latest *Invoice
	for _, inv := range m.state.invoices {
		if inv.PatientID == patientID && (latest == nil || inv.ID > latest.ID) {
			copied := inv
			latest = &copied
		}
	}
	if latest == nil {
		return "", nil, shared.ErrNotFound
	}
	return latest.InsuranceType, latest.SupplementaryInsurance, nil
}

type staticCatalog struct {
	snap *tariff.Snapshot
}

func (c staticCatalog) Snapshot(ctx context.Context) (*tariff.Snapshot, error) {
	return c.snap, nil
}

type fakeShifts struct {
	current shift.ActorShift
	staff   shift.Assignment
}

func (f *fakeShifts) Current(ctx context.Context, actor shared.Actor) (shift.ActorShift, error) {
	return f.current, nil
}

func (f *fakeShifts) Assignment(ctx context.Context, workDate time.Time, name shift.Name) (shift.Assignment, error) {
	return f.staff, nil
}

type fakeItems map[tariff.Kind]map[int64]tariff.CatalogItem

func (f fakeItems) Item(ctx context.Context, kind tariff.Kind, id int64) (tariff.CatalogItem, error) {
	item, ok := f[kind][id]
	if !ok {
		return tariff.CatalogItem{}, shared.ErrNotFound
	}
	return item, nil
}

type countingMetrics struct {
	opened, closed, rejected int
	lines                    map[string]int
}

func (c *countingMetrics) InvoiceOpened() { c.opened++ }
func (c *countingMetrics) InvoiceClosed() { c.closed++ }
func (c *countingMetrics) CloseRejected() { c.rejected++ }
func (c *countingMetrics) LineAdded(t string) {
	if c.lines == nil {
		c.lines = map[string]int{}
	}
	c.lines[t]++
}

type recordingSink struct {
	actions []string
	err     error
}

func (r *recordingSink) Record(ctx context.Context, a shared.Activity) error {
	r.actions = append(r.actions, a.Action)
	return r.err
}
