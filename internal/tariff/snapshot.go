package tariff

import (
	"github.com/shopspring/decimal"
)

// Snapshot is an immutable view of the tariff table and nursing exclusions.
// Every lookup fails soft: an unknown insurer simply has no coverage.
type Snapshot struct {
	Entries      []Entry     `json:"entries"`
	Exclusions   []Exclusion `json:"exclusions"`
	SelfPayLabel string      `json:"self_pay_label"`
}

// NewSnapshot builds a snapshot from catalog rows.
func NewSnapshot(entries []Entry, exclusions []Exclusion, selfPayLabel string) *Snapshot {
	return &Snapshot{Entries: entries, Exclusions: exclusions, SelfPayLabel: selfPayLabel}
}

// BasePrice is the active base tariff, else the active self-pay row, else zero.
func (s *Snapshot) BasePrice() decimal.Decimal {
	if s == nil {
		return decimal.Zero
	}
	for _, e := range s.Entries {
		if e.IsActive && e.IsBaseTariff {
			return e.TariffPrice
		}
	}
	for _, e := range s.Entries {
		if e.IsActive && e.InsuranceType == s.SelfPayLabel {
			return e.TariffPrice
		}
	}
	return decimal.Zero
}

// PrimaryTariff returns the first active non-supplementary tariff for the insurer.
func (s *Snapshot) PrimaryTariff(insuranceType string) (decimal.Decimal, bool) {
	return s.find(insuranceType, false)
}

// SupplementaryTariff returns the first active supplementary tariff for the insurer.
func (s *Snapshot) SupplementaryTariff(insuranceType string) (decimal.Decimal, bool) {
	return s.find(insuranceType, true)
}

// NursingCoverage reports whether the insurer reimburses nursing services at all.
func (s *Snapshot) NursingCoverage(insuranceType string) bool {
	if s == nil || insuranceType == "" {
		return false
	}
	for _, e := range s.Entries {
		if e.IsActive && e.InsuranceType == insuranceType {
			return e.NursingCovers
		}
	}
	return false
}

// IsExcluded reports whether the insurer excludes one nursing service from coverage.
func (s *Snapshot) IsExcluded(insuranceType string, nursingServiceID int64) bool {
	if s == nil {
		return false
	}
	for _, x := range s.Exclusions {
		if x.InsuranceType == insuranceType && x.NursingServiceID == nursingServiceID {
			return true
		}
	}
	return false
}

// IsSelfPay reports whether insuranceType means "no insurance".
func (s *Snapshot) IsSelfPay(insuranceType string) bool {
	if insuranceType == "" {
		return true
	}
	return s != nil && insuranceType == s.SelfPayLabel
}

// IsSupplementaryInsurer reports whether an active supplementary row exists for the insurer.
func (s *Snapshot) IsSupplementaryInsurer(insuranceType string) bool {
	_, ok := s.SupplementaryTariff(insuranceType)
	return ok
}

func (s *Snapshot) find(insuranceType string, supplementary bool) (decimal.Decimal, bool) {
	if s == nil || insuranceType == "" {
		return decimal.Zero, false
	}
	for _, e := range s.Entries {
		if e.IsActive && e.IsSupplementary == supplementary && e.InsuranceType == insuranceType {
			return e.TariffPrice, true
		}
	}
	return decimal.Zero, false
}
