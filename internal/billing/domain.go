// Package billing runs the invoice lifecycle: opening, line capture, pricing,
// settlement and closing.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
)

// Status enumerates invoice states. Closed is terminal.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Channel is the tender a line was settled with.
type Channel string

const (
	ChannelCash Channel = "cash"
	ChannelCard Channel = "card"
)

// Valid reports whether c is a supported tender.
func (c Channel) Valid() bool {
	return c == ChannelCash || c == ChannelCard
}

// Invoice is the running bill of one patient visit.
type Invoice struct {
	ID                     int64           `json:"id"`
	PatientID              int64           `json:"patient_id"`
	PatientName            string          `json:"patient_name,omitempty"`
	InsuranceType          string          `json:"insurance_type"`
	SupplementaryInsurance *string         `json:"supplementary_insurance,omitempty"`
	Status                 Status          `json:"status"`
	OpenedBy               string          `json:"opened_by"`
	OpenedByName           string          `json:"opened_by_name"`
	OpenedAt               time.Time       `json:"opened_at"`
	ClosedBy               string          `json:"closed_by,omitempty"`
	ClosedByName           string          `json:"closed_by_name,omitempty"`
	ClosedAt               *time.Time      `json:"closed_at,omitempty"`
	WorkDate               time.Time       `json:"work_date"`
	Shift                  string          `json:"shift"`
	TotalAmount            decimal.Decimal `json:"total_amount"`
}

// IsClosed reports whether the invoice accepts no more mutations.
func (i Invoice) IsClosed() bool {
	return i.Status == StatusClosed
}

// Supplementary returns the supplementary insurer or "".
func (i Invoice) Supplementary() string {
	if i.SupplementaryInsurance == nil {
		return ""
	}
	return *i.SupplementaryInsurance
}

// PaymentRecord is the settlement state of one line.
type PaymentRecord struct {
	InvoiceID int64           `json:"invoice_id"`
	ItemType  ledger.ItemType `json:"item_type"`
	ItemID    int64           `json:"item_id"`
	Channel   *Channel        `json:"channel,omitempty"`
	IsPaid    bool            `json:"is_paid"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PricedLine is a line with its resolved shares and display names.
type PricedLine struct {
	Type               ledger.ItemType `json:"type"`
	ID                 int64           `json:"id"`
	Date               time.Time       `json:"date"`
	WorkDate           time.Time       `json:"work_date"`
	DoctorName         string          `json:"doctor_name,omitempty"`
	NurseName          string          `json:"nurse_name,omitempty"`
	RecordedPrice      decimal.Decimal `json:"recorded_price"`
	PatientShare       decimal.Decimal `json:"patient_share"`
	InsurerShare       decimal.Decimal `json:"insurer_share"`
	CoveredByInsurance bool            `json:"covered_by_insurance"`
	Description        string          `json:"description"`
	Category           string          `json:"category,omitempty"`
	InvoiceID          int64           `json:"invoice_id"`
	IsPaid             bool            `json:"is_paid"`
	Channel            *Channel        `json:"payment_channel,omitempty"`
}

// Ref returns the line reference.
func (p PricedLine) Ref() ledger.ItemRef {
	return ledger.ItemRef{Type: p.Type, ID: p.ID, Description: p.Description}
}

// Financials summarises an invoice. Revenue excludes consumables.
type Financials struct {
	Visits      decimal.Decimal `json:"visits"`
	Injections  decimal.Decimal `json:"injections"`
	Procedures  decimal.Decimal `json:"procedures"`
	Consumables decimal.Decimal `json:"consumables"`
	Revenue     decimal.Decimal `json:"revenue"`
	Total       decimal.Decimal `json:"total"`
	Paid        decimal.Decimal `json:"paid"`
	PaidCash    decimal.Decimal `json:"paid_cash"`
	PaidCard    decimal.Decimal `json:"paid_card"`
	Remaining   decimal.Decimal `json:"remaining"`
}

// InvoiceDetail is the full read model of one invoice.
type InvoiceDetail struct {
	Invoice    Invoice      `json:"invoice"`
	Items      []PricedLine `json:"items"`
	Financials Financials   `json:"financials"`
}

// OpenInvoiceInput opens a new invoice for a patient.
type OpenInvoiceInput struct {
	PatientID              int64   `json:"patient_id" validate:"gt=0"`
	InsuranceType          string  `json:"insurance_type" validate:"required,max=120"`
	SupplementaryInsurance *string `json:"supplementary_insurance"`
}

// AddVisitInput records a physician visit.
type AddVisitInput struct {
	InvoiceID int64  `json:"-"`
	Notes     string `json:"notes" validate:"max=500"`
}

// AddInjectionInput records a nursing service. A ServiceID pulls name and
// price from the nursing-service catalog when they are not given.
type AddInjectionInput struct {
	InvoiceID   int64           `json:"-"`
	ServiceID   *int64          `json:"service_id"`
	ServiceName string          `json:"service_name" validate:"max=200"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Count       int32           `json:"count" validate:"gt=0"`
	Notes       string          `json:"notes" validate:"max=500"`
}

// AddProcedureInput records a procedure.
type AddProcedureInput struct {
	InvoiceID     int64            `json:"-"`
	ProcedureID   *int64           `json:"procedure_id"`
	Name          string           `json:"name" validate:"max=200"`
	PerformerType ledger.Performer `json:"performer_type"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	Quantity      int32            `json:"quantity" validate:"gt=0"`
	Notes         string           `json:"notes" validate:"max=500"`
}

// AddConsumableInput records a drug or supply.
type AddConsumableInput struct {
	InvoiceID       int64           `json:"-"`
	ConsumableID    *int64          `json:"consumable_id"`
	ItemName        string          `json:"item_name" validate:"max=200"`
	Category        ledger.Category `json:"category"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	PatientProvided bool            `json:"patient_provided"`
	IsException     bool            `json:"is_exception"`
	Notes           string          `json:"notes" validate:"max=500"`
}

// SetPaymentInput marks one line paid or unpaid.
type SetPaymentInput struct {
	InvoiceID int64           `json:"-"`
	ItemType  ledger.ItemType `json:"item_type"`
	ItemID    int64           `json:"item_id" validate:"gt=0"`
	Channel   *Channel        `json:"channel"`
	IsPaid    bool            `json:"is_paid"`
}

// SettleResult reports the outcome of settling every line.
type SettleResult struct {
	Settled []ledger.ItemRef `json:"settled"`
	Failed  []ledger.ItemRef `json:"failed"`
}
