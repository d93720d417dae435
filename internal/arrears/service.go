package arrears

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/coverage"
	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
	"github.com/odyssey-erp/odyssey-clinic/internal/tariff"
)

// SnapshotSource supplies the tariff view lines are priced against.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*tariff.Snapshot, error)
}

// Service computes arrears reports.
type Service struct {
	repo    Repository
	catalog SnapshotSource
	logger  *slog.Logger
	loc     *time.Location
	now     func() time.Time
}

// NewService constructs the arrears reporter.
func NewService(repo Repository, catalog SnapshotSource, loc *time.Location, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, catalog: catalog, logger: logger, loc: loc, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Trailing returns the filter covering the last days work dates up to today.
func (s *Service) Trailing(days int, insuranceType string) Filter {
	if days <= 0 {
		days = 1
	}
	local := s.now().In(s.loc)
	to := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -(days - 1))
	return Filter{From: &from, To: &to, InsuranceType: strings.TrimSpace(insuranceType)}
}

// Report sums what insurers owe for visits and covered nursing services in
// the filter window. Self-pay invoices are skipped.
func (s *Service) Report(ctx context.Context, f Filter) (Summary, error) {
	f.InsuranceType = strings.TrimSpace(f.InsuranceType)
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return Summary{}, shared.Invalid("from", "must not be after to")
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("arrears: load tariffs: %w", err)
	}
	rows, err := s.repo.Rows(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("arrears: load lines: %w", err)
	}

	b := newBuilder(f, s.now())
	resolver := coverage.NewResolver(snap)
	for _, row := range rows {
		if snap.IsSelfPay(row.InsuranceType) {
			continue
		}
		ins := coverage.Insurance{Type: row.InsuranceType, Supplementary: row.Supplementary}
		switch line := row.Line.(type) {
		case ledger.Visit:
			split := resolver.ResolveVisit(ins)
			b.add(row, KindVisit, row.InsuranceType, "", split.Recorded.Sub(split.PrimaryShare))
			if split.SupplementApplied && split.PrimaryShare.IsPositive() {
				b.add(row, KindSupplementary, row.Supplementary, row.InsuranceType, split.PrimaryShare.Sub(split.FinalShare))
			}
		case ledger.Injection:
			split := resolver.Resolve(line, ins)
			if split.Covered {
				b.add(row, KindNursing, row.InsuranceType, "", split.Insurer)
			}
		}
	}
	summary := b.summary()
	s.logger.Debug("arrears report",
		slog.Int("lines", len(rows)),
		slog.Int("entries", len(summary.Entries)),
		slog.String("total_debt", summary.TotalDebt.String()))
	return summary, nil
}

type builder struct {
	filter  Filter
	at      time.Time
	buckets map[string]*Bucket
	entries []Entry
}

func newBuilder(f Filter, at time.Time) *builder {
	return &builder{filter: f, at: at, buckets: map[string]*Bucket{}}
}

// add books a positive debt against insurer; zero and negative debts are dropped.
func (b *builder) add(row Row, kind Kind, insurer, baseInsurance string, debt decimal.Decimal) {
	if !debt.IsPositive() {
		return
	}
	base := row.Line.Base()
	b.entries = append(b.entries, Entry{
		Kind:          kind,
		ItemType:      row.Line.Type(),
		ItemID:        base.ID,
		InvoiceID:     base.InvoiceID,
		PatientName:   row.PatientName,
		WorkDate:      base.WorkDate,
		InsuranceType: insurer,
		BaseInsurance: baseInsurance,
		Debt:          debt,
	})
	bucket := b.bucket(insurer)
	switch kind {
	case KindVisit:
		bucket.VisitCount++
		bucket.VisitDebt = bucket.VisitDebt.Add(debt)
	case KindSupplementary:
		bucket.IsSupplementary = true
		bucket.SupplementaryCount++
		bucket.SupplementaryDebt = bucket.SupplementaryDebt.Add(debt)
	case KindNursing:
		bucket.NursingCount++
		bucket.NursingDebt = bucket.NursingDebt.Add(debt)
	}
	bucket.TotalDebt = bucket.TotalDebt.Add(debt)
}

func (b *builder) bucket(insurer string) *Bucket {
	if bucket, ok := b.buckets[insurer]; ok {
		return bucket
	}
	bucket := &Bucket{
		InsuranceType:     insurer,
		VisitDebt:         decimal.Zero,
		NursingDebt:       decimal.Zero,
		SupplementaryDebt: decimal.Zero,
		TotalDebt:         decimal.Zero,
	}
	b.buckets[insurer] = bucket
	return bucket
}

func (b *builder) summary() Summary {
	out := Summary{
		Filter:            b.filter,
		Buckets:           make([]Bucket, 0, len(b.buckets)),
		Entries:           b.entries,
		VisitDebt:         decimal.Zero,
		NursingDebt:       decimal.Zero,
		SupplementaryDebt: decimal.Zero,
		TotalDebt:         decimal.Zero,
		GeneratedAt:       b.at,
	}
	if out.Entries == nil {
		out.Entries = []Entry{}
	}
	for _, bucket := range b.buckets {
		out.Buckets = append(out.Buckets, *bucket)
		out.VisitDebt = out.VisitDebt.Add(bucket.VisitDebt)
		out.NursingDebt = out.NursingDebt.Add(bucket.NursingDebt)
		out.SupplementaryDebt = out.SupplementaryDebt.Add(bucket.SupplementaryDebt)
		out.TotalDebt = out.TotalDebt.Add(bucket.TotalDebt)
	}
	sort.Slice(out.Buckets, func(i, j int) bool {
		if !out.Buckets[i].TotalDebt.Equal(out.Buckets[j].TotalDebt) {
			return out.Buckets[i].TotalDebt.GreaterThan(out.Buckets[j].TotalDebt)
		}
		return out.Buckets[i].InsuranceType < out.Buckets[j].InsuranceType
	})
	return out
}
