// Package ledger defines the four service-line variants attached to an invoice.
//
// Lines are stored in four tables but handled as one sum type: every variant
// implements Line, and pricing code dispatches on the concrete type.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// ItemType tags the ledger a line lives in.
type ItemType string

const (
	TypeVisit      ItemType = "visit"
	TypeInjection  ItemType = "injection"
	TypeProcedure  ItemType = "procedure"
	TypeConsumable ItemType = "consumable"
)

// ItemTypes lists the ledgers in their display tie-break order.
var ItemTypes = []ItemType{TypeVisit, TypeInjection, TypeProcedure, TypeConsumable}

// Valid reports whether t names a known ledger.
func (t ItemType) Valid() bool {
	switch t {
	case TypeVisit, TypeInjection, TypeProcedure, TypeConsumable:
		return true
	}
	return false
}

// Order returns the tie-break rank of the ledger.
func (t ItemType) Order() int {
	for i, it := range ItemTypes {
		if it == t {
			return i
		}
	}
	return len(ItemTypes)
}

// Performer is who carried out a procedure.
type Performer string

const (
	PerformerDoctor Performer = "doctor"
	PerformerNurse  Performer = "nurse"
)

// Category classifies a consumable.
type Category string

const (
	CategoryDrug   Category = "drug"
	CategorySupply Category = "supply"
)

// Common carries the fields shared by every variant.
type Common struct {
	ID        int64
	InvoiceID int64
	PatientID int64
	WorkDate  time.Time
	Shift     string
	DoctorID  *int64
	NurseID   *int64
	Notes     string
	CreatedAt time.Time
}

// Line is implemented by Visit, Injection, Procedure and Consumable.
type Line interface {
	Type() ItemType
	Base() Common
	RecordedPrice() decimal.Decimal
}

// Visit is a physician visit. Price is the base tariff at creation time;
// pricing always re-derives the recorded price from the current catalog.
type Visit struct {
	Common
	Price decimal.Decimal
}

func (v Visit) Type() ItemType                 { return TypeVisit }
func (v Visit) Base() Common                   { return v.Common }
func (v Visit) RecordedPrice() decimal.Decimal { return v.Price }

// Injection is a nursing service priced unit x count.
type Injection struct {
	Common
	ServiceID   *int64
	ServiceName string
	UnitPrice   decimal.Decimal
	Count       int32
}

func (i Injection) Type() ItemType { return TypeInjection }
func (i Injection) Base() Common   { return i.Common }
func (i Injection) RecordedPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt32(i.Count))
}

// Procedure is a clinical procedure performed by a doctor or a nurse.
type Procedure struct {
	Common
	ProcedureID   *int64
	Name          string
	PerformerType Performer
	UnitPrice     decimal.Decimal
	Quantity      int32
}

func (p Procedure) Type() ItemType { return TypeProcedure }
func (p Procedure) Base() Common   { return p.Common }
func (p Procedure) RecordedPrice() decimal.Decimal {
	return p.UnitPrice.Mul(decimal.NewFromInt32(p.Quantity))
}

// Consumable is a drug or supply used during the visit.
type Consumable struct {
	Common
	ItemName        string
	Category        Category
	UnitPrice       decimal.Decimal
	Quantity        decimal.Decimal
	PatientProvided bool
	IsException     bool
}

func (c Consumable) Type() ItemType { return TypeConsumable }
func (c Consumable) Base() Common   { return c.Common }

// RecordedPrice is zero for patient-provided items.
func (c Consumable) RecordedPrice() decimal.Decimal {
	if c.PatientProvided {
		return decimal.Zero
	}
	return c.UnitPrice.Mul(c.Quantity)
}

// ItemRef points at one line of an invoice.
type ItemRef struct {
	Type        ItemType `json:"type"`
	ID          int64    `json:"id"`
	Description string   `json:"description,omitempty"`
}

// Ref returns the reference for a line.
func Ref(l Line) ItemRef {
	return ItemRef{Type: l.Type(), ID: l.Base().ID, Description: Describe(l)}
}

// Describe returns the human-facing label of a line.
func Describe(l Line) string {
	switch v := l.(type) {
	case Visit:
		return "Visit"
	case Injection:
		if v.ServiceName != "" {
			return v.ServiceName
		}
		return "Injection"
	case Procedure:
		if v.Name != "" {
			return v.Name
		}
		return "Procedure"
	case Consumable:
		return v.ItemName
	}
	return ""
}
