// Package arrears reports what insurers still owe the clinic for visits and
// nursing services.
package arrears

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
)

// Kind labels the debt an entry contributes to.
type Kind string

const (
	KindVisit         Kind = "visit"
	KindSupplementary Kind = "supplementary"
	KindNursing       Kind = "nursing"
)

// Filter bounds a report by work date (inclusive) and primary insurer.
type Filter struct {
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	InsuranceType string     `json:"insurance_type,omitempty"`
}

// Row is a visit or injection line joined with its invoice's insurance.
type Row struct {
	Line          ledger.Line
	InsuranceType string
	Supplementary string
	PatientName   string
	InvoiceStatus string
}

// Entry is one line of outstanding insurer debt.
type Entry struct {
	Kind          Kind            `json:"kind"`
	ItemType      ledger.ItemType `json:"item_type"`
	ItemID        int64           `json:"item_id"`
	InvoiceID     int64           `json:"invoice_id"`
	PatientName   string          `json:"patient_name"`
	WorkDate      time.Time       `json:"work_date"`
	InsuranceType string          `json:"insurance_type"`
	BaseInsurance string          `json:"base_insurance,omitempty"`
	Debt          decimal.Decimal `json:"debt"`
}

// Bucket aggregates the debt of one insurer.
type Bucket struct {
	InsuranceType      string          `json:"insurance_type"`
	IsSupplementary    bool            `json:"is_supplementary"`
	VisitCount         int             `json:"visit_count"`
	VisitDebt          decimal.Decimal `json:"visit_debt"`
	NursingCount       int             `json:"nursing_count"`
	NursingDebt        decimal.Decimal `json:"nursing_debt"`
	SupplementaryCount int             `json:"supplementary_count"`
	SupplementaryDebt  decimal.Decimal `json:"supplementary_debt"`
	TotalDebt          decimal.Decimal `json:"total_debt"`
}

// Summary is the arrears report for a filter.
type Summary struct {
	Filter            Filter          `json:"filter"`
	Buckets           []Bucket        `json:"buckets"`
	Entries           []Entry         `json:"entries"`
	VisitDebt         decimal.Decimal `json:"visit_debt"`
	NursingDebt       decimal.Decimal `json:"nursing_debt"`
	SupplementaryDebt decimal.Decimal `json:"supplementary_debt"`
	TotalDebt         decimal.Decimal `json:"total_debt"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// Snapshot is a stored report.
type Snapshot struct {
	ID      string    `json:"id"`
	Days    int       `json:"days"`
	Summary Summary   `json:"summary"`
	SavedAt time.Time `json:"saved_at"`
}
