package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/shift"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
)

const selfPay = "آزاد"

var desk = shared.Actor{ID: 3, Username: "desk", DisplayName: "Front Desk", Role: shared.RoleReception}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func ptr[T any](v T) *T { return &v }

func clinicSnapshot() *tariff.Snapshot {
	return tariff.NewSnapshot([]tariff.Entry{
		{InsuranceType: selfPay, TariffPrice: d(150000), IsActive: true, IsBaseTariff: true},
		{InsuranceType: "X", TariffPrice: d(120000), IsActive: true, NursingCovers: true},
		{InsuranceType: "Y", TariffPrice: d(0), IsActive: true, IsSupplementary: true},
	}, []tariff.Exclusion{{InsuranceType: "X", NursingServiceID: 9}}, selfPay)
}

var workDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *memoryRepo
	shifts  *fakeShifts
	metrics *countingMetrics
	sink    *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	repo.staff[10] = "Dr. Karimi"
	repo.staff[20] = "Nurse Ahmadi"
	shifts := &fakeShifts{
		current: shift.ActorShift{ActorID: desk.ID, Shift: shift.Night, WorkDate: workDate},
		staff:   shift.Assignment{WorkDate: workDate, Shift: shift.Night, DoctorID: ptr(int64(10)), NurseID: ptr(int64(20))},
	}
	items := fakeItems{
		tariff.KindNursing: {
			5: {ID: 5, Kind: tariff.KindNursing, Name: "IM injection", UnitPrice: d(40000), IsActive: true},
			9: {ID: 9, Kind: tariff.KindNursing, Name: "IV drip", UnitPrice: d(30000), IsActive: true},
		},
		tariff.KindProcedure: {6: {ID: 6, Kind: tariff.KindProcedure, Name: "Suture", UnitPrice: d(250000), IsActive: true}},
	}
	svc := NewService(repo, staticCatalog{snap: clinicSnapshot()}, shifts, items, nil)
	svc.WithNoSupplementaryLabel("ندارد")
	svc.WithNow(func() time.Time { return time.Date(2024, 3, 2, 2, 15, 0, 0, time.UTC) })
	metrics := &countingMetrics{}
	svc.WithMetrics(metrics)
	sink := &recordingSink{}
	svc.WithActivity(sink)
	return &fixture{svc: svc, repo: repo, shifts: shifts, metrics: metrics, sink: sink}
}

func (f *fixture) open(t *testing.T, insurance string, supplementary *string) Invoice {
	t.Helper()
	inv, err := f.svc.OpenInvoice(context.Background(), desk, OpenInvoiceInput{PatientID: 1, InsuranceType: insurance, SupplementaryInsurance: supplementary})
	require.NoError(t, err)
	return inv
}

func (f *fixture) assertTotalMatches(t *testing.T, invoiceID int64) decimal.Decimal {
	t.Helper()
	items, err := f.svc.Aggregator().ItemsForInvoice(context.Background(), f.repo, invoiceID)
	require.NoError(t, err)
	stored := f.repo.state.invoices[invoiceID].TotalAmount
	require.True(t, stored.Equal(TotalOf(items)), "stored %s computed %s", stored, TotalOf(items))
	return stored
}

func TestOpenInvoiceStampsShiftAndActor(t *testing.T) {
	f := newFixture(t)

	inv := f.open(t, "X", ptr("ندارد"))

	assert.Equal(t, StatusOpen, inv.Status)
	assert.Equal(t, workDate, inv.WorkDate)
	assert.Equal(t, "night", inv.Shift)
	assert.Equal(t, "Front Desk", inv.OpenedByName)
	assert.Nil(t, inv.SupplementaryInsurance, "the no-supplementary option is stored as none")
	assert.Equal(t, 1, f.metrics.opened)
	assert.Equal(t, []string{"invoice.open"}, f.sink.actions)
}

func TestOpenInvoiceValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OpenInvoice(ctx, desk, OpenInvoiceInput{PatientID: 1, InsuranceType: "  "})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "insurance_type", verr.Field)

	_, err = f.svc.OpenInvoice(ctx, desk, OpenInvoiceInput{PatientID: 1, InsuranceType: selfPay, SupplementaryInsurance: ptr("Y")})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "supplementary_insurance", verr.Field)

	_, err = f.svc.OpenInvoice(ctx, shared.Actor{}, OpenInvoiceInput{PatientID: 1, InsuranceType: "X"})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestOpenForPatientFallsBackToLatestThenSelfPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.OpenForPatient(ctx, desk, 42, "")
	require.NoError(t, err)
	assert.Equal(t, selfPay, first.InsuranceType)

	_, err = f.svc.OpenInvoice(ctx, desk, OpenInvoiceInput{PatientID: 42, InsuranceType: "X", SupplementaryInsurance: ptr("Y")})
	require.NoError(t, err)

	latest, err := f.svc.OpenForPatient(ctx, desk, 42, "")
	require.NoError(t, err)
	assert.Equal(t, "X", latest.InsuranceType)
	assert.Equal(t, "Y", latest.Supplementary())

	own, err := f.svc.OpenForPatient(ctx, desk, 42, "Dana")
	require.NoError(t, err)
	assert.Equal(t, "Dana", own.InsuranceType)
}

func TestTotalInvariantAcrossMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)

	visit, err := f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: inv.ID})
	require.NoError(t, err)
	assert.True(t, f.assertTotalMatches(t, inv.ID).Equal(d(120000)))

	_, err = f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceID: ptr(int64(9)), ServiceName: "IV", UnitPrice: d(30000), Count: 2})
	require.NoError(t, err)
	assert.True(t, f.assertTotalMatches(t, inv.ID).Equal(d(180000)))

	_, err = f.svc.AddConsumable(ctx, desk, AddConsumableInput{InvoiceID: inv.ID, ItemName: "Syringe", Category: ledger.CategorySupply, UnitPrice: d(5000), Quantity: d(2)})
	require.NoError(t, err)
	assert.True(t, f.assertTotalMatches(t, inv.ID).Equal(d(190000)))

	require.NoError(t, f.svc.DeleteLine(ctx, desk, inv.ID, ledger.TypeVisit, visit.ID))
	assert.True(t, f.assertTotalMatches(t, inv.ID).Equal(d(70000)))

	err = f.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		first, err := f.svc.RecomputeTotal(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		second, err := f.svc.RecomputeTotal(ctx, tx, inv.ID)
		if err != nil {
			return err
		}
		assert.True(t, first.Equal(second))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"visit": 1, "injection": 1, "consumable": 1}, f.metrics.lines)
}

func TestScenarioDUnpaidProcedureBlocksClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)

	line, err := f.svc.AddProcedure(ctx, desk, AddProcedureInput{InvoiceID: inv.ID, Name: "Dressing", PerformerType: ledger.PerformerDoctor, UnitPrice: d(80000), Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.CloseInvoice(ctx, desk, inv.ID)
	var unsettled *shared.UnsettledItemsError
	require.ErrorAs(t, err, &unsettled)
	assert.Equal(t, 1, unsettled.Count)
	assert.Equal(t, ledger.TypeProcedure, unsettled.Items[0].Type)
	assert.Equal(t, 1, f.metrics.rejected)
	assert.Equal(t, StatusOpen, f.repo.state.invoices[inv.ID].Status)

	_, err = f.svc.SetPayment(ctx, desk, SetPaymentInput{InvoiceID: inv.ID, ItemType: ledger.TypeProcedure, ItemID: line.ID, Channel: ptr(ChannelCard), IsPaid: true})
	require.NoError(t, err)

	closed, err := f.svc.CloseInvoice(ctx, desk, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, "desk", closed.ClosedBy)
	assert.Equal(t, "Front Desk", closed.ClosedByName)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, f.assertTotalMatches(t, inv.ID).Equal(d(80000)))
	assert.Equal(t, 1, f.metrics.closed)

	_, err = f.svc.CloseInvoice(ctx, desk, inv.ID)
	require.ErrorIs(t, err, shared.ErrInvoiceClosed)
}

func TestSettleAllUnblocksClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, selfPay, nil)

	_, err := f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: inv.ID})
	require.NoError(t, err)
	_, err = f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceID: ptr(int64(5)), Count: 1})
	require.NoError(t, err)

	result, err := f.svc.SettleAll(ctx, desk, inv.ID, ChannelCash)
	require.NoError(t, err)
	assert.Len(t, result.Settled, 2)
	assert.Empty(t, result.Failed)

	detail, err := f.svc.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, detail.Financials.PaidCash.Equal(d(190000)))
	assert.True(t, detail.Financials.Remaining.IsZero())

	_, err = f.svc.CloseInvoice(ctx, desk, inv.ID)
	require.NoError(t, err)
}

func TestSettleAllSkipsFailingLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, selfPay, nil)

	visit, err := f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: inv.ID})
	require.NoError(t, err)
	_, err = f.svc.AddConsumable(ctx, desk, AddConsumableInput{InvoiceID: inv.ID, ItemName: "Gauze", Category: ledger.CategorySupply, UnitPrice: d(1000), Quantity: d(1)})
	require.NoError(t, err)

	f.repo.failPayment = func(p PaymentRecord) error {
		if p.ItemType == ledger.TypeVisit {
			return errors.New("constraint violation")
		}
		return nil
	}
	result, err := f.svc.SettleAll(ctx, desk, inv.ID, ChannelCard)
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, visit.ID, result.Failed[0].ID)
	assert.Len(t, result.Settled, 1)

	unpaid, err := f.svc.UnpaidItems(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, ledger.TypeVisit, unpaid[0].Type)
}

func TestClosedInvoiceCheckedBeforeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)
	_, err := f.svc.CloseInvoice(ctx, desk, inv.ID)
	require.NoError(t, err)

	_, err = f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, Count: 0, UnitPrice: d(-5)})
	require.ErrorIs(t, err, shared.ErrInvoiceClosed)

	_, err = f.svc.SetPayment(ctx, desk, SetPaymentInput{InvoiceID: inv.ID, ItemType: "bogus"})
	require.ErrorIs(t, err, shared.ErrInvoiceClosed)

	err = f.svc.DeleteLine(ctx, desk, inv.ID, "bogus", 1)
	require.ErrorIs(t, err, shared.ErrInvoiceClosed)

	_, err = f.svc.SettleAll(ctx, desk, inv.ID, "bitcoin")
	require.ErrorIs(t, err, shared.ErrInvoiceClosed)
}

func TestLineValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)

	_, err := f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceName: "IV", UnitPrice: d(1), Count: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceName: "IV", UnitPrice: d(-1), Count: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddProcedure(ctx, desk, AddProcedureInput{InvoiceID: inv.ID, Name: "Free", UnitPrice: d(0), Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddConsumable(ctx, desk, AddConsumableInput{InvoiceID: inv.ID, ItemName: "Tea", Category: "food", UnitPrice: d(1), Quantity: d(1)})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddConsumable(ctx, desk, AddConsumableInput{InvoiceID: inv.ID, ItemName: "Gauze", Category: ledger.CategorySupply, UnitPrice: d(1), Quantity: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: 999})
	require.ErrorIs(t, err, shared.ErrNotFound)

	assert.Empty(t, f.repo.state.lines, "rejected lines leave no partial writes")
}

func TestZeroPricedInjectionAndConsumableAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, selfPay, nil)

	inj, err := f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceName: "Dressing check", UnitPrice: decimal.Zero, Count: 1})
	require.NoError(t, err)
	assert.True(t, inj.RecordedPrice.IsZero())

	con, err := f.svc.AddConsumable(ctx, desk, AddConsumableInput{InvoiceID: inv.ID, ItemName: "Sample", Category: ledger.CategoryDrug, UnitPrice: decimal.Zero, Quantity: d(1)})
	require.NoError(t, err)
	assert.True(t, con.PatientShare.IsZero())

	assert.True(t, f.assertTotalMatches(t, inv.ID).IsZero())
}

func TestFailedRecomputeRollsBackLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)
	f.repo.failTotal = errors.New("disk full")

	_, err := f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: inv.ID})
	require.Error(t, err)
	assert.Empty(t, f.repo.state.lines)
}

func TestStaffStamping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)

	visit, err := f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Karimi", visit.DoctorName)
	assert.Empty(t, visit.NurseName, "visits never carry a nurse")

	byNurse, err := f.svc.AddProcedure(ctx, desk, AddProcedureInput{InvoiceID: inv.ID, Name: "Dressing", PerformerType: ledger.PerformerNurse, UnitPrice: d(50000), Quantity: 1})
	require.NoError(t, err)
	stored := f.repo.state.lines[paymentKey{ledger.TypeProcedure, byNurse.ID}].Base()
	assert.Nil(t, stored.DoctorID)
	require.NotNil(t, stored.NurseID)
	assert.Equal(t, int64(20), *stored.NurseID)
	assert.True(t, byNurse.CoveredByInsurance)

	defaulted, err := f.svc.AddProcedure(ctx, desk, AddProcedureInput{InvoiceID: inv.ID, ProcedureID: ptr(int64(6)), PerformerType: "surgeon", Quantity: 1})
	require.NoError(t, err)
	proc := f.repo.state.lines[paymentKey{ledger.TypeProcedure, defaulted.ID}].(ledger.Procedure)
	assert.Equal(t, ledger.PerformerDoctor, proc.PerformerType)
	assert.Equal(t, "Suture", proc.Name)
	assert.True(t, proc.UnitPrice.Equal(d(250000)))
	assert.Nil(t, proc.NurseID)

	f.shifts.staff = shift.Assignment{NurseID: ptr(int64(20))}
	_, err = f.svc.AddVisit(ctx, desk, AddVisitInput{InvoiceID: inv.ID})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "doctor_id", verr.Field)

	nurseOnly, err := f.svc.AddProcedure(ctx, desk, AddProcedureInput{InvoiceID: inv.ID, Name: "Dressing", UnitPrice: d(50000), Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeProcedure, nurseOnly.Type)
	assert.Equal(t, ledger.PerformerNurse, f.repo.state.lines[paymentKey{ledger.TypeProcedure, nurseOnly.ID}].(ledger.Procedure).PerformerType)

	f.shifts.staff = shift.Assignment{}
	_, err = f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceName: "IV", UnitPrice: d(1), Count: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLinesUseActorShiftNotInvoiceShift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.open(t, "X", nil)

	nextDay := workDate.AddDate(0, 0, 1)
	f.shifts.current = shift.ActorShift{ActorID: desk.ID, Shift: shift.Morning, WorkDate: nextDay}
	line, err := f.svc.AddInjection(ctx, desk, AddInjectionInput{InvoiceID: inv.ID, ServiceID: ptr(int64(5)), Count: 1})
	require.NoError(t, err)

	assert.Equal(t, nextDay, line.WorkDate)
	assert.Equal(t, "IM injection", line.Description)
	assert.True(t, line.RecordedPrice.Equal(d(40000)))
}

func TestSetPaymentUnknownLine(t *testing.T) {
	f := newFixture(t)
	inv := f.open(t, "X", nil)

	_, err := f.svc.SetPayment(context.Background(), desk, SetPaymentInput{InvoiceID: inv.ID, ItemType: ledger.TypeVisit, ItemID: 77, IsPaid: true})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestActivityFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("activity_log missing")

	inv := f.open(t, "X", nil)
	assert.NotZero(t, inv.ID)
}

func TestListOpenClampsLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.open(t, "X", nil)
	}
	open, err := f.svc.ListOpen(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, open, 3)
	assert.Greater(t, open[0].ID, open[1].ID)
}
