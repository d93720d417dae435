package audit

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

func newTestRouter(repo *stubTimelineRepo, actor shared.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	})
	NewHandler(nil, NewService(repo), time.FixedZone("clinic", 12600)).MountRoutes(r)
	return r
}

func TestHandleTimelineJSON(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow("2024-03-10T10:00:00Z", "invoice.closed", "invoice", "7")}}
	router := newTestRouter(repo, manager)

	req := httptest.NewRequest(http.MethodGet, "/activity?from=2024-03-01&to=2024-03-10&entity=invoice&actor_id=3", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var result Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0].Action != "invoice.closed" {
		t.Fatalf("unexpected rows %+v", result.Rows)
	}
	wantTo := time.Date(2024, 3, 11, 0, 0, 0, 0, time.FixedZone("clinic", 12600))
	if !repo.lastCall.To.Time.Equal(wantTo) {
		t.Fatalf("expected exclusive upper bound %v, got %v", wantTo, repo.lastCall.To.Time)
	}
	if repo.lastCall.ActorID == nil || *repo.lastCall.ActorID != 3 {
		t.Fatalf("expected actor filter 3")
	}
}

func TestHandleTimelineBadInput(t *testing.T) {
	router := newTestRouter(&stubTimelineRepo{}, manager)

	for _, path := range []string{"/activity?from=yesterday", "/activity?actor_id=abc", "/activity?from=2024-03-10&to=2024-03-01"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}

func TestHandleTimelineForbiddenForReception(t *testing.T) {
	router := newTestRouter(&stubTimelineRepo{}, shared.Actor{ID: 3, Username: "desk", Role: shared.RoleReception})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/activity", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestHandleExportCSV(t *testing.T) {
	row := mockRow("2024-03-10T10:00:00Z", "payment.set", "invoice", "7")
	row.Meta = map[string]any{"channel": "cash"}
	router := newTestRouter(&stubTimelineRepo{rows: []TimelineRow{row}}, manager)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/activity/export.csv", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	records, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d", len(records))
	}
	if records[1][0] != "2024-03-10T13:30:00+03:30" || records[1][7] != `{"channel":"cash"}` {
		t.Fatalf("unexpected row %v", records[1])
	}
}
