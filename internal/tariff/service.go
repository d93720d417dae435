package tariff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// ErrBaseTariffLocked rejects removing the self-pay baseline.
var ErrBaseTariffLocked = errors.New("tariff: base tariff cannot be deleted")

// RepositoryPort defines data access for tariff administration.
type RepositoryPort interface {
	Source
	GetEntry(ctx context.Context, id int64) (Entry, error)
	BaseEntry(ctx context.Context) (Entry, error)
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) (Entry, error)
	DeleteEntry(ctx context.Context, id int64) error
	ReplaceExclusions(ctx context.Context, insuranceType string, serviceIDs []int64) error
	ListItems(ctx context.Context, kind Kind, activeOnly bool) ([]CatalogItem, error)
	GetItem(ctx context.Context, kind Kind, id int64) (CatalogItem, error)
	InsertItem(ctx context.Context, item CatalogItem) (CatalogItem, error)
	UpdateItem(ctx context.Context, item CatalogItem) (CatalogItem, error)
	SetItemActive(ctx context.Context, kind Kind, id int64, active bool) error
}

// Service implements manager-side tariff and price-list administration.
type Service struct {
	repo     RepositoryPort
	catalog  *Catalog
	validate *validator.Validate
}

// NewService builds a Service. Every mutation invalidates the catalog's cached snapshots.
func NewService(repo RepositoryPort, catalog *Catalog) *Service {
	return &Service{repo: repo, catalog: catalog, validate: shared.NewValidator()}
}

// ListTariffs returns every insurance tariff.
func (s *Service) ListTariffs(ctx context.Context) ([]Entry, error) {
	return s.repo.ListEntries(ctx)
}

// ActiveVisitTariffs returns the primary-tier insurers reception may pick.
func (s *Service) ActiveVisitTariffs(ctx context.Context) ([]Entry, error) {
	return s.filterActive(ctx, false)
}

// ActiveSupplementary returns the supplementary insurers reception may pick.
func (s *Service) ActiveSupplementary(ctx context.Context) ([]Entry, error) {
	return s.filterActive(ctx, true)
}

func (s *Service) filterActive(ctx context.Context, supplementary bool) ([]Entry, error) {
	entries, err := s.repo.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsActive && e.IsSupplementary == supplementary {
			out = append(out, e)
		}
	}
	return out, nil
}

// CreateTariff adds an insurance tariff; insurance types are unique.
func (s *Service) CreateTariff(ctx context.Context, actor shared.Actor, in EntryInput) (Entry, error) {
	if err := shared.RequireManager(actor); err != nil {
		return Entry{}, err
	}
	if err := s.validateEntry(in); err != nil {
		return Entry{}, err
	}
	created, err := s.repo.InsertEntry(ctx, Entry{
		InsuranceType:   strings.TrimSpace(in.InsuranceType),
		TariffPrice:     in.TariffPrice,
		IsActive:        in.IsActive,
		IsSupplementary: in.IsSupplementary,
		NursingCovers:   in.NursingCovers,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("create tariff: %w", err)
	}
	s.catalog.Invalidate(ctx)
	return created, nil
}

// UpdateTariff edits an insurance tariff. The base flag is managed by SetBasePrice only.
func (s *Service) UpdateTariff(ctx context.Context, actor shared.Actor, id int64, in EntryInput) (Entry, error) {
	if err := shared.RequireManager(actor); err != nil {
		return Entry{}, err
	}
	if err := s.validateEntry(in); err != nil {
		return Entry{}, err
	}
	current, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if current.IsBaseTariff && (in.IsSupplementary || !in.IsActive) {
		return Entry{}, shared.Invalid("is_active", "base tariff must stay active and primary")
	}
	current.InsuranceType = strings.TrimSpace(in.InsuranceType)
	current.TariffPrice = in.TariffPrice
	current.IsActive = in.IsActive
	current.IsSupplementary = in.IsSupplementary
	current.NursingCovers = in.NursingCovers
	updated, err := s.repo.UpdateEntry(ctx, current)
	if err != nil {
		return Entry{}, fmt.Errorf("update tariff: %w", err)
	}
	s.catalog.Invalidate(ctx)
	return updated, nil
}

// DeleteTariff removes an insurance tariff other than the base tariff.
func (s *Service) DeleteTariff(ctx context.Context, actor shared.Actor, id int64) error {
	if err := shared.RequireManager(actor); err != nil {
		return err
	}
	current, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if current.IsBaseTariff {
		return &shared.ValidationError{Field: "id", Reason: ErrBaseTariffLocked.Error()}
	}
	if err := s.repo.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete tariff: %w", err)
	}
	s.catalog.Invalidate(ctx)
	return nil
}

// SetBasePrice updates the base tariff, creating the self-pay base row when none exists.
func (s *Service) SetBasePrice(ctx context.Context, actor shared.Actor, price decimal.Decimal) (Entry, error) {
	if err := shared.RequireManager(actor); err != nil {
		return Entry{}, err
	}
	if price.IsNegative() {
		return Entry{}, shared.Invalid("tariff_price", "must be at least 0")
	}
	base, err := s.repo.BaseEntry(ctx)
	var out Entry
	switch {
	case errors.Is(err, shared.ErrNotFound):
		out, err = s.repo.InsertEntry(ctx, Entry{
			InsuranceType: s.catalog.SelfPayLabel(),
			TariffPrice:   price,
			IsActive:      true,
			IsBaseTariff:  true,
		})
	case err != nil:
		return Entry{}, err
	default:
		base.TariffPrice = price
		base.IsActive = true
		out, err = s.repo.UpdateEntry(ctx, base)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("set base price: %w", err)
	}
	s.catalog.Invalidate(ctx)
	return out, nil
}

// Exclusions lists the services the insurer does not cover.
func (s *Service) Exclusions(ctx context.Context, insuranceType string) ([]Exclusion, error) {
	if strings.TrimSpace(insuranceType) == "" {
		return nil, shared.Invalid("insurance_type", "is required")
	}
	return s.repo.ListExclusions(ctx, insuranceType)
}

// ReplaceExclusions sets the insurer's excluded nursing services to exactly serviceIDs.
func (s *Service) ReplaceExclusions(ctx context.Context, actor shared.Actor, insuranceType string, serviceIDs []int64) error {
	if err := shared.RequireManager(actor); err != nil {
		return err
	}
	if strings.TrimSpace(insuranceType) == "" {
		return shared.Invalid("insurance_type", "is required")
	}
	for _, id := range serviceIDs {
		if id <= 0 {
			return shared.Invalid("service_ids", "must contain positive ids")
		}
	}
	if err := s.repo.ReplaceExclusions(ctx, insuranceType, serviceIDs); err != nil {
		return fmt.Errorf("replace exclusions: %w", err)
	}
	s.catalog.Invalidate(ctx)
	return nil
}

// ListItems returns a price list.
func (s *Service) ListItems(ctx context.Context, kind Kind, activeOnly bool) ([]CatalogItem, error) {
	if !kind.Valid() {
		return nil, shared.Invalid("kind", "must be one of nursing procedure consumable")
	}
	return s.repo.ListItems(ctx, kind, activeOnly)
}

// Item loads one price-list row.
func (s *Service) Item(ctx context.Context, kind Kind, id int64) (CatalogItem, error) {
	return s.repo.GetItem(ctx, kind, id)
}

// CreateItem adds a price-list row.
func (s *Service) CreateItem(ctx context.Context, actor shared.Actor, kind Kind, in ItemInput) (CatalogItem, error) {
	if err := s.checkItem(actor, kind, in); err != nil {
		return CatalogItem{}, err
	}
	return s.repo.InsertItem(ctx, CatalogItem{Kind: kind, Name: strings.TrimSpace(in.Name), UnitPrice: in.UnitPrice, Category: in.Category, IsActive: true})
}

// UpdateItem edits a price-list row. Existing lines keep their recorded prices.
func (s *Service) UpdateItem(ctx context.Context, actor shared.Actor, kind Kind, id int64, in ItemInput) (CatalogItem, error) {
	if err := s.checkItem(actor, kind, in); err != nil {
		return CatalogItem{}, err
	}
	return s.repo.UpdateItem(ctx, CatalogItem{ID: id, Kind: kind, Name: strings.TrimSpace(in.Name), UnitPrice: in.UnitPrice, Category: in.Category})
}

// DeactivateItem soft-deletes a price-list row.
func (s *Service) DeactivateItem(ctx context.Context, actor shared.Actor, kind Kind, id int64) error {
	if err := shared.RequireManager(actor); err != nil {
		return err
	}
	if !kind.Valid() {
		return shared.Invalid("kind", "must be one of nursing procedure consumable")
	}
	return s.repo.SetItemActive(ctx, kind, id, false)
}

func (s *Service) checkItem(actor shared.Actor, kind Kind, in ItemInput) error {
	if err := shared.RequireManager(actor); err != nil {
		return err
	}
	if !kind.Valid() {
		return shared.Invalid("kind", "must be one of nursing procedure consumable")
	}
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return err
	}
	if in.UnitPrice.IsNegative() {
		return shared.Invalid("unit_price", "must be at least 0")
	}
	if kind == KindConsumable && in.Category == "" {
		return shared.Invalid("category", "is required")
	}
	return nil
}

func (s *Service) validateEntry(in EntryInput) error {
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return err
	}
	if in.TariffPrice.IsNegative() {
		return shared.Invalid("tariff_price", "must be at least 0")
	}
	return nil
}
