package billing

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/coverage"
	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
)

// SnapshotSource hands out the current tariff view.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*tariff.Snapshot, error)
}

// Aggregator merges the four ledgers of an invoice into one priced view.
type Aggregator struct {
	catalog SnapshotSource
}

// NewAggregator constructs an Aggregator pricing against catalog.
func NewAggregator(catalog SnapshotSource) *Aggregator {
	return &Aggregator{catalog: catalog}
}

// ItemsForInvoice returns the priced lines of an invoice, newest first.
func (a *Aggregator) ItemsForInvoice(ctx context.Context, q Reader, invoiceID int64) ([]PricedLine, error) {
	snap, err := a.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := q.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return a.items(ctx, q, inv, snap)
}

// FinancialsForInvoice returns the category totals and settlement sums of an invoice.
func (a *Aggregator) FinancialsForInvoice(ctx context.Context, q Reader, invoiceID int64) (Financials, error) {
	items, err := a.ItemsForInvoice(ctx, q, invoiceID)
	if err != nil {
		return Financials{}, err
	}
	return Summarize(items), nil
}

// Detail loads the invoice with its priced lines and financials from one snapshot.
func (a *Aggregator) Detail(ctx context.Context, q Reader, invoiceID int64) (InvoiceDetail, error) {
	snap, err := a.catalog.Snapshot(ctx)
	if err != nil {
		return InvoiceDetail{}, err
	}
	inv, err := q.GetInvoice(ctx, invoiceID)
	if err != nil {
		return InvoiceDetail{}, err
	}
	items, err := a.items(ctx, q, inv, snap)
	if err != nil {
		return InvoiceDetail{}, err
	}
	return InvoiceDetail{Invoice: inv, Items: items, Financials: Summarize(items)}, nil
}

func (a *Aggregator) items(ctx context.Context, q Reader, inv Invoice, snap *tariff.Snapshot) ([]PricedLine, error) {
	lines, err := q.ListLines(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	payments, err := q.ListPayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	names, err := q.StaffNames(ctx, staffIDs(lines))
	if err != nil {
		return nil, err
	}
	return PriceLines(inv, lines, payments, names, snap), nil
}

// PriceLines resolves every line against snap and orders them by creation
// time descending, ledger order breaking ties.
func PriceLines(inv Invoice, lines []ledger.Line, payments []PaymentRecord, names map[int64]string, snap coverage.Lookup) []PricedLine {
	resolver := coverage.NewResolver(snap)
	ins := coverage.Insurance{Type: inv.InsuranceType, Supplementary: inv.Supplementary()}
	paid := indexPayments(payments)

	out := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		base := line.Base()
		split := resolver.Resolve(line, ins)
		priced := PricedLine{
			Type:               line.Type(),
			ID:                 base.ID,
			Date:               base.CreatedAt,
			WorkDate:           base.WorkDate,
			DoctorName:         staffName(names, base.DoctorID),
			NurseName:          staffName(names, base.NurseID),
			RecordedPrice:      split.Recorded,
			PatientShare:       split.Patient,
			InsurerShare:       split.Insurer,
			CoveredByInsurance: split.Covered,
			Description:        describe(line),
			InvoiceID:          inv.ID,
		}
		if c, ok := line.(ledger.Consumable); ok {
			priced.Category = string(c.Category)
		}
		if p, ok := paid[paymentKey{line.Type(), base.ID}]; ok {
			priced.IsPaid = p.IsPaid
			priced.Channel = p.Channel
		}
		out = append(out, priced)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if out[i].Type != out[j].Type {
			return out[i].Type.Order() < out[j].Type.Order()
		}
		return out[i].ID > out[j].ID
	})
	fillDoctorFallback(out)
	return out
}

// fillDoctorFallback shows the newest visit's doctor on lines that name none.
// It only touches the display name.
func fillDoctorFallback(items []PricedLine) {
	var doctor string
	for _, it := range items {
		if it.Type == ledger.TypeVisit && it.DoctorName != "" {
			doctor = it.DoctorName
			break
		}
	}
	if doctor == "" {
		return
	}
	for i := range items {
		if items[i].Type != ledger.TypeVisit && items[i].DoctorName == "" {
			items[i].DoctorName = doctor
		}
	}
}

// Summarize folds priced lines into invoice financials.
func Summarize(items []PricedLine) Financials {
	f := Financials{
		Visits: decimal.Zero, Injections: decimal.Zero, Procedures: decimal.Zero, Consumables: decimal.Zero,
		Paid: decimal.Zero, PaidCash: decimal.Zero, PaidCard: decimal.Zero,
	}
	for _, it := range items {
		share := it.PatientShare
		switch it.Type {
		case ledger.TypeVisit:
			f.Visits = f.Visits.Add(share)
		case ledger.TypeInjection:
			f.Injections = f.Injections.Add(share)
		case ledger.TypeProcedure:
			f.Procedures = f.Procedures.Add(share)
		case ledger.TypeConsumable:
			f.Consumables = f.Consumables.Add(share)
		}
		if !it.IsPaid {
			continue
		}
		f.Paid = f.Paid.Add(share)
		if it.Channel != nil {
			switch *it.Channel {
			case ChannelCash:
				f.PaidCash = f.PaidCash.Add(share)
			case ChannelCard:
				f.PaidCard = f.PaidCard.Add(share)
			}
		}
	}
	f.Revenue = f.Visits.Add(f.Injections).Add(f.Procedures)
	f.Total = f.Revenue.Add(f.Consumables)
	f.Remaining = f.Total.Sub(f.Paid)
	if f.Remaining.IsNegative() {
		f.Remaining = decimal.Zero
	}
	return f
}

// TotalOf is the patient-facing invoice total.
func TotalOf(items []PricedLine) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.PatientShare)
	}
	return total
}

// UnpaidRefs lists lines without a paid settlement record.
func UnpaidRefs(lines []ledger.Line, payments []PaymentRecord) []ledger.ItemRef {
	paid := indexPayments(payments)
	var out []ledger.ItemRef
	for _, line := range lines {
		if p, ok := paid[paymentKey{line.Type(), line.Base().ID}]; ok && p.IsPaid {
			continue
		}
		out = append(out, ledger.Ref(line))
	}
	return out
}

type paymentKey struct {
	typ ledger.ItemType
	id  int64
}

func indexPayments(payments []PaymentRecord) map[paymentKey]PaymentRecord {
	out := make(map[paymentKey]PaymentRecord, len(payments))
	for _, p := range payments {
		out[paymentKey{p.ItemType, p.ItemID}] = p
	}
	return out
}

func describe(line ledger.Line) string {
	label := ledger.Describe(line)
	if p, ok := line.(ledger.Procedure); ok && p.PerformerType != "" {
		return label + " (" + string(p.PerformerType) + ")"
	}
	return label
}

func staffIDs(lines []ledger.Line) []int64 {
	seen := map[int64]struct{}{}
	var ids []int64
	add := func(id *int64) {
		if id == nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	for _, line := range lines {
		base := line.Base()
		add(base.DoctorID)
		add(base.NurseID)
	}
	return ids
}

func staffName(names map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	return names[*id]
}
