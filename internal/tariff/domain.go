package tariff

import (
	"github.com/shopspring/decimal"
)

// Entry is one named insurance option for visits.
type Entry struct {
	ID              int64           `json:"id"`
	InsuranceType   string          `json:"insurance_type"`
	TariffPrice     decimal.Decimal `json:"tariff_price"`
	IsActive        bool            `json:"is_active"`
	IsBaseTariff    bool            `json:"is_base_tariff"`
	IsSupplementary bool            `json:"is_supplementary"`
	NursingCovers   bool            `json:"nursing_covers"`
}

// Exclusion removes nursing coverage for one service under one insurer.
type Exclusion struct {
	InsuranceType    string `json:"insurance_type"`
	NursingServiceID int64  `json:"nursing_service_id"`
}

// Kind names one of the three simple price lists.
type Kind string

const (
	KindNursing    Kind = "nursing"
	KindProcedure  Kind = "procedure"
	KindConsumable Kind = "consumable"
)

// Valid reports whether k names a known price list.
func (k Kind) Valid() bool {
	switch k {
	case KindNursing, KindProcedure, KindConsumable:
		return true
	}
	return false
}

// CatalogItem is a row of a nursing-service, procedure or consumable price list.
type CatalogItem struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"kind"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category,omitempty"`
	IsActive  bool            `json:"is_active"`
}

// EntryInput creates or updates an insurance tariff.
type EntryInput struct {
	InsuranceType   string          `json:"insurance_type" validate:"required,max=120"`
	TariffPrice     decimal.Decimal `json:"tariff_price"`
	IsActive        bool            `json:"is_active"`
	IsSupplementary bool            `json:"is_supplementary"`
	NursingCovers   bool            `json:"nursing_covers"`
}

// ItemInput creates or updates a catalog item.
type ItemInput struct {
	Name      string          `json:"name" validate:"required,max=200"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category" validate:"omitempty,oneof=drug supply"`
}
