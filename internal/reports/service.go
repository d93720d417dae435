package reports

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/shift"
)

const defaultWindowDays = 7

// Service builds manager reports.
type Service struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

// NewService constructs a report service. Work dates are resolved in loc.
func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, loc: loc, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ConsumableUsage reports consumables used on closed invoices. A missing
// bound selects the last week; inverted bounds are swapped.
func (s *Service) ConsumableUsage(ctx context.Context, actor shared.Actor, f ConsumableFilter) (ConsumableReport, error) {
	if err := shared.RequireManager(actor); err != nil {
		return ConsumableReport{}, err
	}
	f.ItemName = strings.TrimSpace(f.ItemName)
	f.Shift = strings.TrimSpace(f.Shift)
	if f.Category != "" && f.Category != ledger.CategoryDrug && f.Category != ledger.CategorySupply {
		return ConsumableReport{}, shared.Invalid("category", "must be one of drug supply")
	}
	if f.Shift != "" && !shift.Name(f.Shift).Valid() {
		return ConsumableReport{}, shared.Invalid("shift", "must be one of morning evening night")
	}
	if f.From.IsZero() || f.To.IsZero() {
		local := s.now().In(s.loc)
		f.To = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		f.From = f.To.AddDate(0, 0, -(defaultWindowDays - 1))
	}
	if f.From.After(f.To) {
		f.From, f.To = f.To, f.From
	}

	items, err := s.repo.ConsumableUsage(ctx, f)
	if err != nil {
		return ConsumableReport{}, fmt.Errorf("reports: consumable usage: %w", err)
	}
	report := ConsumableReport{Filter: f, Items: items, TotalAmount: decimal.Zero}
	if report.Items == nil {
		report.Items = []ConsumableUsage{}
	}
	for _, it := range items {
		report.TotalCount++
		report.TotalAmount = report.TotalAmount.Add(it.TotalCost)
		switch it.Category {
		case ledger.CategoryDrug:
			report.DrugCount++
		case ledger.CategorySupply:
			report.SupplyCount++
		}
	}
	return report, nil
}
