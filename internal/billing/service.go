package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/shift"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
)

// ShiftSource supplies the actor's current shift and the staff on duty.
type ShiftSource interface {
	Current(ctx context.Context, actor shared.Actor) (shift.ActorShift, error)
	Assignment(ctx context.Context, workDate time.Time, name shift.Name) (shift.Assignment, error)
}

// ItemLookup resolves catalog-referenced lines.
type ItemLookup interface {
	Item(ctx context.Context, kind tariff.Kind, id int64) (tariff.CatalogItem, error)
}

// ActivitySink observes successful mutations.
type ActivitySink interface {
	Record(ctx context.Context, a shared.Activity) error
}

// Metrics counts lifecycle events.
type Metrics interface {
	InvoiceOpened()
	InvoiceClosed()
	CloseRejected()
	LineAdded(itemType string)
}

type noopMetrics struct{}

func (noopMetrics) InvoiceOpened()   {}
func (noopMetrics) InvoiceClosed()   {}
func (noopMetrics) CloseRejected()   {}
func (noopMetrics) LineAdded(string) {}

const (
	defaultOpenLimit = 50
	maxOpenLimit     = 200
)

// Service orchestrates the invoice lifecycle.
type Service struct {
	repo     Repository
	catalog  SnapshotSource
	agg      *Aggregator
	shifts   ShiftSource
	items    ItemLookup
	activity ActivitySink
	metrics  Metrics
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time

	noSupplementaryLabel string
}

// NewService constructs a billing service.
func NewService(repo Repository, catalog SnapshotSource, shifts ShiftSource, items ItemLookup, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  catalog,
		agg:      NewAggregator(catalog),
		shifts:   shifts,
		items:    items,
		metrics:  noopMetrics{},
		logger:   logger,
		validate: shared.NewValidator(),
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithActivity attaches an activity observer.
func (s *Service) WithActivity(sink ActivitySink) {
	s.activity = sink
}

// WithMetrics attaches lifecycle counters.
func (s *Service) WithMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// WithNoSupplementaryLabel sets the option label meaning "no supplementary insurance".
func (s *Service) WithNoSupplementaryLabel(label string) {
	s.noSupplementaryLabel = strings.TrimSpace(label)
}

// Aggregator exposes the read-side aggregator.
func (s *Service) Aggregator() *Aggregator {
	return s.agg
}

// OpenInvoice creates an open invoice stamped with the actor's shift.
func (s *Service) OpenInvoice(ctx context.Context, actor shared.Actor, in OpenInvoiceInput) (Invoice, error) {
	if err := actor.Validate(); err != nil {
		return Invoice{}, err
	}
	in.InsuranceType = strings.TrimSpace(in.InsuranceType)
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return Invoice{}, err
	}
	supplementary := s.normalizeSupplementary(in.SupplementaryInsurance)
	if supplementary != nil {
		snap, err := s.catalog.Snapshot(ctx)
		if err != nil {
			return Invoice{}, err
		}
		if snap.IsSelfPay(in.InsuranceType) {
			return Invoice{}, shared.Invalid("supplementary_insurance", "requires a primary insurance")
		}
	}
	current, err := s.shifts.Current(ctx, actor)
	if err != nil {
		return Invoice{}, err
	}

	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.InsertInvoice(ctx, Invoice{
			PatientID:              in.PatientID,
			InsuranceType:          in.InsuranceType,
			SupplementaryInsurance: supplementary,
			OpenedBy:               actor.Username,
			OpenedByName:           actor.Name(),
			OpenedAt:               s.now(),
			WorkDate:               current.WorkDate,
			Shift:                  string(current.Shift),
		})
		if err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("billing: open invoice: %w", err)
	}
	s.metrics.InvoiceOpened()
	s.record(ctx, actor, "invoice.open", created.ID, map[string]any{
		"patient_id":     created.PatientID,
		"insurance_type": created.InsuranceType,
	})
	return created, nil
}

// OpenForPatient opens an invoice for a registered patient. The insurance is
// the patient's own, else the newest invoice's, else self-pay.
func (s *Service) OpenForPatient(ctx context.Context, actor shared.Actor, patientID int64, patientInsurance string) (Invoice, error) {
	in := OpenInvoiceInput{PatientID: patientID, InsuranceType: strings.TrimSpace(patientInsurance)}
	if in.InsuranceType == "" {
		insurance, supplementary, err := s.repo.LatestInsurance(ctx, patientID)
		switch {
		case errors.Is(err, shared.ErrNotFound):
		case err != nil:
			return Invoice{}, err
		default:
			in.InsuranceType = insurance
			in.SupplementaryInsurance = supplementary
		}
	}
	if in.InsuranceType == "" {
		snap, err := s.catalog.Snapshot(ctx)
		if err != nil {
			return Invoice{}, err
		}
		in.InsuranceType = snap.SelfPayLabel
	}
	return s.OpenInvoice(ctx, actor, in)
}

func (s *Service) normalizeSupplementary(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := strings.TrimSpace(*raw)
	if v == "" || (s.noSupplementaryLabel != "" && v == s.noSupplementaryLabel) {
		return nil
	}
	return &v
}

// AddVisit records a visit for the doctor on shift.
func (s *Service) AddVisit(ctx context.Context, actor shared.Actor, in AddVisitInput) (PricedLine, error) {
	return s.addLine(ctx, actor, in.InvoiceID, func(ctx context.Context, inv Invoice, st stamp) (ledger.Line, error) {
		if err := shared.ValidateStruct(s.validate, in); err != nil {
			return nil, err
		}
		if !st.staff.HasDoctor() {
			return nil, shared.Invalid("doctor_id", "no doctor assigned to the current shift")
		}
		snap, err := s.catalog.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		c := st.common(inv, in.Notes)
		c.DoctorID = st.staff.DoctorID
		return ledger.Visit{Common: c, Price: snap.BasePrice()}, nil
	})
}

// AddInjection records a nursing service.
func (s *Service) AddInjection(ctx context.Context, actor shared.Actor, in AddInjectionInput) (PricedLine, error) {
	return s.addLine(ctx, actor, in.InvoiceID, func(ctx context.Context, inv Invoice, st stamp) (ledger.Line, error) {
		if err := shared.ValidateStruct(s.validate, in); err != nil {
			return nil, err
		}
		if in.ServiceID != nil {
			item, err := s.catalogItem(ctx, tariff.KindNursing, *in.ServiceID)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(in.ServiceName) == "" {
				in.ServiceName = item.Name
			}
			if in.UnitPrice.IsZero() {
				in.UnitPrice = item.UnitPrice
			}
		}
		if strings.TrimSpace(in.ServiceName) == "" {
			return nil, shared.Invalid("service_name", "is required")
		}
		if in.UnitPrice.IsNegative() {
			return nil, shared.Invalid("unit_price", "must be at least 0")
		}
		if !st.staff.HasDoctor() && !st.staff.HasNurse() {
			return nil, shared.Invalid("nurse_id", "no doctor or nurse assigned to the current shift")
		}
		c := st.common(inv, in.Notes)
		c.DoctorID = st.staff.DoctorID
		c.NurseID = st.staff.NurseID
		return ledger.Injection{
			Common:      c,
			ServiceID:   in.ServiceID,
			ServiceName: strings.TrimSpace(in.ServiceName),
			UnitPrice:   in.UnitPrice,
			Count:       in.Count,
		}, nil
	})
}

// AddProcedure records a procedure, stamping only the staff member who performed it.
func (s *Service) AddProcedure(ctx context.Context, actor shared.Actor, in AddProcedureInput) (PricedLine, error) {
	return s.addLine(ctx, actor, in.InvoiceID, func(ctx context.Context, inv Invoice, st stamp) (ledger.Line, error) {
		if err := shared.ValidateStruct(s.validate, in); err != nil {
			return nil, err
		}
		if in.ProcedureID != nil {
			item, err := s.catalogItem(ctx, tariff.KindProcedure, *in.ProcedureID)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(in.Name) == "" {
				in.Name = item.Name
			}
			if in.UnitPrice.IsZero() {
				in.UnitPrice = item.UnitPrice
			}
		}
		if strings.TrimSpace(in.Name) == "" {
			return nil, shared.Invalid("name", "is required")
		}
		if !in.UnitPrice.IsPositive() {
			return nil, shared.Invalid("unit_price", "must be greater than 0")
		}
		if !st.staff.HasDoctor() && !st.staff.HasNurse() {
			return nil, shared.Invalid("nurse_id", "no doctor or nurse assigned to the current shift")
		}
		performer := in.PerformerType
		if performer != ledger.PerformerDoctor && performer != ledger.PerformerNurse {
			performer = ledger.PerformerNurse
			if st.staff.HasDoctor() {
				performer = ledger.PerformerDoctor
			}
		}
		c := st.common(inv, in.Notes)
		if performer == ledger.PerformerDoctor {
			c.DoctorID = st.staff.DoctorID
		} else {
			c.NurseID = st.staff.NurseID
		}
		return ledger.Procedure{
			Common:        c,
			ProcedureID:   in.ProcedureID,
			Name:          strings.TrimSpace(in.Name),
			PerformerType: performer,
			UnitPrice:     in.UnitPrice,
			Quantity:      in.Quantity,
		}, nil
	})
}

// AddConsumable records a drug or supply.
func (s *Service) AddConsumable(ctx context.Context, actor shared.Actor, in AddConsumableInput) (PricedLine, error) {
	return s.addLine(ctx, actor, in.InvoiceID, func(ctx context.Context, inv Invoice, st stamp) (ledger.Line, error) {
		if err := shared.ValidateStruct(s.validate, in); err != nil {
			return nil, err
		}
		if in.ConsumableID != nil {
			item, err := s.catalogItem(ctx, tariff.KindConsumable, *in.ConsumableID)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(in.ItemName) == "" {
				in.ItemName = item.Name
			}
			if in.UnitPrice.IsZero() {
				in.UnitPrice = item.UnitPrice
			}
			if in.Category == "" {
				in.Category = ledger.Category(item.Category)
			}
		}
		if strings.TrimSpace(in.ItemName) == "" {
			return nil, shared.Invalid("item_name", "is required")
		}
		if in.Category != ledger.CategoryDrug && in.Category != ledger.CategorySupply {
			return nil, shared.Invalid("category", "must be one of drug supply")
		}
		if !in.Quantity.IsPositive() {
			return nil, shared.Invalid("quantity", "must be greater than 0")
		}
		if in.UnitPrice.IsNegative() {
			return nil, shared.Invalid("unit_price", "must be at least 0")
		}
		if !st.staff.HasDoctor() && !st.staff.HasNurse() {
			return nil, shared.Invalid("nurse_id", "no doctor or nurse assigned to the current shift")
		}
		c := st.common(inv, in.Notes)
		c.DoctorID = st.staff.DoctorID
		c.NurseID = st.staff.NurseID
		return ledger.Consumable{
			Common:          c,
			ItemName:        strings.TrimSpace(in.ItemName),
			Category:        in.Category,
			UnitPrice:       in.UnitPrice,
			Quantity:        in.Quantity,
			PatientProvided: in.PatientProvided,
			IsException:     in.IsException,
		}, nil
	})
}

func (s *Service) catalogItem(ctx context.Context, kind tariff.Kind, id int64) (tariff.CatalogItem, error) {
	if s.items == nil {
		return tariff.CatalogItem{}, fmt.Errorf("%s item %d: %w", kind, id, shared.ErrNotFound)
	}
	return s.items.Item(ctx, kind, id)
}

// stamp is the shift context a new line is written under.
type stamp struct {
	key   shift.Key
	staff shift.Assignment
}

func (st stamp) common(inv Invoice, notes string) ledger.Common {
	return ledger.Common{
		InvoiceID: inv.ID,
		PatientID: inv.PatientID,
		WorkDate:  st.key.WorkDate,
		Shift:     string(st.key.Shift),
		Notes:     strings.TrimSpace(notes),
	}
}

type lineBuilder func(ctx context.Context, inv Invoice, st stamp) (ledger.Line, error)

// addLine checks the invoice is open before anything else, builds the line,
// then inserts it and recomputes the total in one transaction.
func (s *Service) addLine(ctx context.Context, actor shared.Actor, invoiceID int64, build lineBuilder) (PricedLine, error) {
	if err := actor.Validate(); err != nil {
		return PricedLine{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return PricedLine{}, err
	}
	if inv.IsClosed() {
		return PricedLine{}, shared.ErrInvoiceClosed
	}
	current, err := s.shifts.Current(ctx, actor)
	if err != nil {
		return PricedLine{}, err
	}
	staff, err := s.shifts.Assignment(ctx, current.WorkDate, current.Shift)
	if err != nil {
		return PricedLine{}, err
	}
	line, err := build(ctx, inv, stamp{key: current.Key(), staff: staff})
	if err != nil {
		return PricedLine{}, err
	}

	var priced PricedLine
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if locked.IsClosed() {
			return shared.ErrInvoiceClosed
		}
		id, err := tx.InsertLine(ctx, line)
		if err != nil {
			return err
		}
		items, _, err := s.recompute(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.Type == line.Type() && it.ID == id {
				priced = it
				break
			}
		}
		return nil
	})
	if err != nil {
		return PricedLine{}, fmt.Errorf("billing: add %s: %w", line.Type(), err)
	}
	s.metrics.LineAdded(string(line.Type()))
	s.record(ctx, actor, "invoice.line.add", invoiceID, map[string]any{
		"item_type": line.Type(),
		"item_id":   priced.ID,
	})
	return priced, nil
}

// DeleteLine removes a line and its settlement record.
func (s *Service) DeleteLine(ctx context.Context, actor shared.Actor, invoiceID int64, itemType ledger.ItemType, itemID int64) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.IsClosed() {
			return shared.ErrInvoiceClosed
		}
		if !itemType.Valid() {
			return shared.Invalid("item_type", "must be one of visit injection procedure consumable")
		}
		if err := tx.DeleteLine(ctx, invoiceID, itemType, itemID); err != nil {
			return err
		}
		if err := tx.DeletePayment(ctx, invoiceID, itemType, itemID); err != nil {
			return err
		}
		_, err = s.RecomputeTotal(ctx, tx, invoiceID)
		return err
	})
	if err != nil {
		return fmt.Errorf("billing: delete line: %w", err)
	}
	s.record(ctx, actor, "invoice.line.delete", invoiceID, map[string]any{"item_type": itemType, "item_id": itemID})
	return nil
}

// RecomputeTotal writes total_amount as the sum of patient shares. It is the
// only writer of the column.
func (s *Service) RecomputeTotal(ctx context.Context, tx TxRepository, invoiceID int64) (decimal.Decimal, error) {
	_, total, err := s.recompute(ctx, tx, invoiceID)
	return total, err
}

func (s *Service) recompute(ctx context.Context, tx TxRepository, invoiceID int64) ([]PricedLine, decimal.Decimal, error) {
	items, err := s.agg.ItemsForInvoice(ctx, tx, invoiceID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	total := TotalOf(items)
	if err := tx.UpdateTotal(ctx, invoiceID, total); err != nil {
		return nil, decimal.Zero, err
	}
	return items, total, nil
}

// CloseInvoice closes an invoice whose lines are all settled.
func (s *Service) CloseInvoice(ctx context.Context, actor shared.Actor, invoiceID int64) (Invoice, error) {
	if err := actor.Validate(); err != nil {
		return Invoice{}, err
	}
	var closed Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.IsClosed() {
			return shared.ErrInvoiceClosed
		}
		lines, err := tx.ListLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, invoiceID)
		if err != nil {
			return err
		}
		if unpaid := UnpaidRefs(lines, payments); len(unpaid) > 0 {
			return &shared.UnsettledItemsError{Count: len(unpaid), Items: unpaid}
		}
		at := s.now()
		ok, err := tx.MarkClosed(ctx, invoiceID, actor.Username, actor.Name(), at)
		if err != nil {
			return err
		}
		if !ok {
			return shared.ErrInvoiceClosed
		}
		total, err := s.RecomputeTotal(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		inv.Status = StatusClosed
		inv.ClosedBy = actor.Username
		inv.ClosedByName = actor.Name()
		inv.ClosedAt = &at
		inv.TotalAmount = total
		closed = inv
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnsettled) {
			s.metrics.CloseRejected()
		}
		return Invoice{}, fmt.Errorf("billing: close invoice %d: %w", invoiceID, err)
	}
	s.metrics.InvoiceClosed()
	s.record(ctx, actor, "invoice.close", invoiceID, map[string]any{"total_amount": closed.TotalAmount.String()})
	return closed, nil
}

// Invoice returns the invoice with its priced lines and financials.
func (s *Service) Invoice(ctx context.Context, id int64) (InvoiceDetail, error) {
	return s.agg.Detail(ctx, s.repo, id)
}

// ListOpen returns open invoices, newest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]Invoice, error) {
	if limit <= 0 {
		limit = defaultOpenLimit
	}
	if limit > maxOpenLimit {
		limit = maxOpenLimit
	}
	return s.repo.ListOpen(ctx, limit)
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, invoiceID int64, meta map[string]any) {
	if s.activity == nil {
		return
	}
	err := s.activity.Record(ctx, shared.Activity{
		Actor:    actor,
		Action:   action,
		Entity:   "invoice",
		EntityID: invoiceID,
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("activity record failed", slog.String("action", action), slog.Int64("invoice_id", invoiceID), slog.Any("error", err))
	}
}
