// Package reports holds manager reports over closed invoices.
package reports

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
)

// ConsumableFilter narrows the consumable usage report. From and To are
// inclusive work dates.
type ConsumableFilter struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	ItemName string          `json:"item_name,omitempty"`
	Category ledger.Category `json:"category,omitempty"`
	Shift    string          `json:"shift,omitempty"`
}

// ConsumableUsage is one center-provided consumable on a closed invoice.
type ConsumableUsage struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	WorkDate    time.Time       `json:"work_date"`
	UsedAt      time.Time       `json:"used_at"`
	PatientName string          `json:"patient_name"`
	ItemName    string          `json:"item_name"`
	Category    ledger.Category `json:"category"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Shift       string          `json:"shift"`
	Notes       string          `json:"notes,omitempty"`
}

// ConsumableReport is the usage list with its totals.
type ConsumableReport struct {
	Filter      ConsumableFilter  `json:"filter"`
	Items       []ConsumableUsage `json:"items"`
	TotalCount  int               `json:"total_count"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	DrugCount   int               `json:"drug_count"`
	SupplyCount int               `json:"supply_count"`
}
