package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

var manager = shared.Actor{ID: 1, Username: "boss", DisplayName: "Clinic Manager", Role: shared.RoleManager}

type stubTimelineRepo struct {
	rows     []TimelineRow
	lastCall WindowParams
	calls    int
}

func (s *stubTimelineRepo) Timeline(ctx context.Context, p WindowParams) ([]TimelineRow, error) {
	s.lastCall = p
	s.calls++
	return s.rows, nil
}

func mockRow(ts, action, entity, entityID string) TimelineRow {
	at, _ := time.Parse(time.RFC3339, ts)
	return TimelineRow{At: at, ActorID: 3, ActorName: "Front Desk", Role: "reception", Action: action, Entity: entity, EntityID: entityID}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []TimelineRow{
			mockRow("2024-03-10T10:00:00Z", "invoice.closed", "invoice", "7"),
			mockRow("2024-03-10T09:00:00Z", "payment.set", "invoice", "7"),
			mockRow("2024-03-10T08:00:00Z", "line.added", "invoice", "7"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), manager, TimelineFilters{
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastCall.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastCall.Limit)
	}
	if repo.lastCall.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastCall.Offset)
	}
	if !repo.lastCall.From.Valid || !repo.lastCall.To.Valid {
		t.Fatalf("expected both bounds to be set")
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), manager, TimelineFilters{Page: 3, PageSize: 500, Entity: " invoice "})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if repo.lastCall.Limit != maxPageSize+1 || repo.lastCall.Offset != 2*maxPageSize {
		t.Fatalf("unexpected window %+v", repo.lastCall)
	}
	if repo.lastCall.Entity == nil || *repo.lastCall.Entity != "invoice" {
		t.Fatalf("expected trimmed entity filter")
	}
	if result.Paging.PrevPage != 2 || result.Rows == nil {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestServiceExportReturnsAllRows(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []TimelineRow{
			mockRow("2024-03-10T10:00:00Z", "invoice.opened", "invoice", "8"),
			mockRow("2024-03-09T09:00:00Z", "invoice.opened", "invoice", "7"),
		},
	}
	svc := NewService(repo)
	rows, err := svc.Export(context.Background(), manager, TimelineFilters{From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if repo.lastCall.Limit != 0 || repo.lastCall.ActorID != nil || repo.lastCall.Action != nil {
		t.Fatalf("expected unbounded, unfiltered export, got %+v", repo.lastCall)
	}
}

func TestServiceRequiresManager(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	desk := shared.Actor{ID: 3, Username: "desk", Role: shared.RoleReception}

	_, err := svc.Timeline(context.Background(), desk, TimelineFilters{})
	if !errors.Is(err, shared.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if repo.calls != 0 {
		t.Fatalf("repository must not be queried")
	}
}

func TestServiceRejectsInvertedRange(t *testing.T) {
	svc := NewService(&stubTimelineRepo{})
	_, err := svc.Export(context.Background(), manager, TimelineFilters{
		From: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
