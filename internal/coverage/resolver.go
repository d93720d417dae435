// Package coverage splits the recorded price of a service line between the
// patient and the insurer.
package coverage

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
)

// Lookup is the read-only tariff view the resolver prices against.
// *tariff.Snapshot satisfies it.
type Lookup interface {
	BasePrice() decimal.Decimal
	PrimaryTariff(insuranceType string) (decimal.Decimal, bool)
	SupplementaryTariff(insuranceType string) (decimal.Decimal, bool)
	NursingCoverage(insuranceType string) bool
	IsExcluded(insuranceType string, nursingServiceID int64) bool
}

// Insurance is the invoice's primary insurer and optional supplementary insurer.
type Insurance struct {
	Type          string
	Supplementary string
}

// Split is the priced view of one line.
type Split struct {
	Recorded decimal.Decimal
	Patient  decimal.Decimal
	Insurer  decimal.Decimal
	Covered  bool
}

// VisitSplit exposes the intermediate visit shares used for arrears.
type VisitSplit struct {
	Split
	PrimaryShare      decimal.Decimal
	FinalShare        decimal.Decimal
	SupplementApplied bool
}

// Resolver prices lines against one tariff view.
type Resolver struct {
	lookup Lookup
}

// NewResolver binds a resolver to a tariff view.
func NewResolver(lookup Lookup) Resolver {
	return Resolver{lookup: lookup}
}

// Resolve prices a line. Unknown or unmatched insurers leave the patient liable
// for the full amount.
func (r Resolver) Resolve(line ledger.Line, ins Insurance) Split {
	switch l := line.(type) {
	case ledger.Visit:
		return r.ResolveVisit(ins).Split
	case ledger.Injection:
		covered := r.nursingCovers(ins.Type) && (l.ServiceID == nil || !r.lookup.IsExcluded(ins.Type, *l.ServiceID))
		return binary(l.RecordedPrice(), covered)
	case ledger.Procedure:
		covered := l.PerformerType == ledger.PerformerNurse && r.nursingCovers(ins.Type)
		return binary(l.RecordedPrice(), covered)
	case ledger.Consumable:
		return binary(l.RecordedPrice(), false)
	case nil:
		return Split{}
	default:
		return binary(clampZero(line.RecordedPrice()), false)
	}
}

// ResolveVisit prices a visit. The recorded price is always the current base
// tariff. An active supplementary row replaces the patient share outright.
func (r Resolver) ResolveVisit(ins Insurance) VisitSplit {
	recorded := decimal.Zero
	if r.lookup != nil {
		recorded = clampZero(r.lookup.BasePrice())
	}
	primary := recorded
	if r.lookup != nil && ins.Type != "" {
		if price, ok := r.lookup.PrimaryTariff(ins.Type); ok {
			primary = clampZero(price)
		}
	}
	final := primary
	applied := false
	if r.lookup != nil && ins.Supplementary != "" {
		if price, ok := r.lookup.SupplementaryTariff(ins.Supplementary); ok {
			final = clampZero(price)
			applied = true
		}
	}
	return VisitSplit{
		Split: Split{
			Recorded: recorded,
			Patient:  final,
			Insurer:  clampZero(recorded.Sub(final)),
			Covered:  final.IsZero() && recorded.IsPositive(),
		},
		PrimaryShare:      primary,
		FinalShare:        final,
		SupplementApplied: applied,
	}
}

func (r Resolver) nursingCovers(insuranceType string) bool {
	return r.lookup != nil && insuranceType != "" && r.lookup.NursingCoverage(insuranceType)
}

func binary(recorded decimal.Decimal, covered bool) Split {
	if covered {
		return Split{Recorded: recorded, Patient: decimal.Zero, Insurer: recorded, Covered: true}
	}
	return Split{Recorded: recorded, Patient: recorded, Insurer: decimal.Zero}
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
