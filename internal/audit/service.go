package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// Service reads the activity timeline.
type Service struct {
	repo Repository
}

// NewService constructs a timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of activity, newest first.
func (s *Service) Timeline(ctx context.Context, actor shared.Actor, filters TimelineFilters) (Result, error) {
	if err := shared.RequireManager(actor); err != nil {
		return Result{}, err
	}
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	if err := checkRange(filters); err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	params := windowParams(filters)
	params.Offset = (page - 1) * pageSize
	params.Limit = pageSize + 1

	rows, err := s.repo.Timeline(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row without paging.
func (s *Service) Export(ctx context.Context, actor shared.Actor, filters TimelineFilters) ([]TimelineRow, error) {
	if err := shared.RequireManager(actor); err != nil {
		return nil, err
	}
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	if err := checkRange(filters); err != nil {
		return nil, err
	}
	return s.repo.Timeline(ctx, windowParams(filters))
}

func checkRange(f TimelineFilters) error {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return shared.Invalid("to", "must not be before from")
	}
	return nil
}

func windowParams(f TimelineFilters) WindowParams {
	p := WindowParams{
		From:     toPgTime(f.From),
		To:       toPgTime(f.To),
		Entity:   optionalText(f.Entity),
		EntityID: optionalText(f.EntityID),
		Action:   optionalText(f.Action),
	}
	if f.ActorID > 0 {
		id := f.ActorID
		p.ActorID = &id
	}
	return p
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
