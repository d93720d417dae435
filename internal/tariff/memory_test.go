package tariff

import (
	"context"
	"fmt"
	"sort"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type memoryRepo struct {
	entries    map[int64]Entry
	exclusions []Exclusion
	items      map[Kind]map[int64]CatalogItem
	nextID     int64
	listCalls  int
	failList   error
}

func newMemoryRepo(entries ...Entry) *memoryRepo {
	repo := &memoryRepo{entries: map[int64]Entry{}, items: map[Kind]map[int64]CatalogItem{}}
	for _, e := range entries {
		repo.nextID++
		if e.ID == 0 {
			e.ID = repo.nextID
		}
		repo.entries[e.ID] = e
	}
	return repo
}

func (m *memoryRepo) ListEntries(ctx context.Context) ([]Entry, error) {
	m.listCalls++
	if m.failList != nil {
		return nil, m.failList
	}
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) ListExclusions(ctx context.Context, insuranceType string) ([]Exclusion, error) {
	var out []Exclusion
	for _, x := range m.exclusions {
		if insuranceType == "" || x.InsuranceType == insuranceType {
			out = append(out, x)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetEntry(ctx context.Context, id int64) (Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("tariff %d: %w", id, shared.ErrNotFound)
	}
	return e, nil
}

func (m *memoryRepo) BaseEntry(ctx context.Context) (Entry, error) {
	for _, e := range m.entries {
		if e.IsBaseTariff {
			return e, nil
		}
	}
	return Entry{}, shared.ErrNotFound
}

func (m *memoryRepo) unique(e Entry) error {
	for _, other := range m.entries {
		if other.ID != e.ID && other.InsuranceType == e.InsuranceType {
			return shared.ErrDuplicate
		}
	}
	return nil
}

func (m *memoryRepo) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	if err := m.unique(e); err != nil {
		return Entry{}, err
	}
	m.nextID++
	e.ID = m.nextID
	m.entries[e.ID] = e
	return e, nil
}

func (m *memoryRepo) UpdateEntry(ctx context.Context, e Entry) (Entry, error) {
	if _, ok := m.entries[e.ID]; !ok {
		return Entry{}, shared.ErrNotFound
	}
	if err := m.unique(e); err != nil {
		return Entry{}, err
	}
	m.entries[e.ID] = e
	return e, nil
}

func (m *memoryRepo) DeleteEntry(ctx context.Context, id int64) error {
	delete(m.entries, id)
	return nil
}

func (m *memoryRepo) ReplaceExclusions(ctx context.Context, insuranceType string, serviceIDs []int64) error {
	kept := m.exclusions[:0]
	for _, x := range m.exclusions {
		if x.InsuranceType != insuranceType {
			kept = append(kept, x)
		}
	}
	for _, id := range serviceIDs {
		kept = append(kept, Exclusion{InsuranceType: insuranceType, NursingServiceID: id})
	}
	m.exclusions = kept
	return nil
}

func (m *memoryRepo) ListItems(ctx context.Context, kind Kind, activeOnly bool) ([]CatalogItem, error) {
	var out []CatalogItem
	for _, item := range m.items[kind] {
		if activeOnly && !item.IsActive {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetItem(ctx context.Context, kind Kind, id int64) (CatalogItem, error) {
	item, ok := m.items[kind][id]
	if !ok {
		return CatalogItem{}, shared.ErrNotFound
	}
	return item, nil
}

func (m *memoryRepo) InsertItem(ctx context.Context, item CatalogItem) (CatalogItem, error) {
	if m.items[item.Kind] == nil {
		m.items[item.Kind] = map[int64]CatalogItem{}
	}
	m.nextID++
	item.ID = m.nextID
	m.items[item.Kind][item.ID] = item
	return item, nil
}

func (m *memoryRepo) UpdateItem(ctx context.Context, item CatalogItem) (CatalogItem, error) {
	current, ok := m.items[item.Kind][item.ID]
	if !ok {
		return CatalogItem{}, shared.ErrNotFound
	}
	item.IsActive = current.IsActive
	m.items[item.Kind][item.ID] = item
	return item, nil
}

func (m *memoryRepo) SetItemActive(ctx context.Context, kind Kind, id int64, active bool) error {
	item, ok := m.items[kind][id]
	if !ok {
		return shared.ErrNotFound
	}
	item.IsActive = active
	m.items[kind][id] = item
	return nil
}
