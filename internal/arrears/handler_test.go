package arrears

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	days      []int
	insurance []string
}

func (f *fakeEnqueuer) EnqueueArrearsSnapshot(ctx context.Context, days int, insuranceType string) (string, error) {
	f.days = append(f.days, days)
	f.insurance = append(f.insurance, insuranceType)
	return "task-1", nil
}

func newTestRouter(t *testing.T, enqueuer Enqueuer) (http.Handler, *memoryRepo) {
	t.Helper()
	svc, repo := newTestService(fixtureRows()...)
	store, _ := newTestStore(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, store, enqueuer, 30)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, repo
}

func TestHandlerReport(t *testing.T) {
	router, repo := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/arrears?from=2024-03-01&to=2024-03-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		TotalDebt string   `json:"total_debt"`
		Buckets   []Bucket `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "250000", body.TotalDebt)
	assert.Len(t, body.Buckets, 2)
	require.Len(t, repo.filters, 1)
	assert.Equal(t, "2024-03-31", repo.filters[0].To.Format("2006-01-02"))
}

func TestHandlerReportBadRange(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, path := range []string{"/arrears?from=2024-03-05&to=2024-03-01", "/arrears?from=yesterday"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestHandlerSnapshotEndpoints(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	router, _ := newTestRouter(t, enqueuer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/arrears/snapshot", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/arrears/snapshot", strings.NewReader(`{"insurance_type":"X"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, []int{30}, enqueuer.days)
	assert.Equal(t, []string{"X"}, enqueuer.insurance)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/arrears/snapshot", strings.NewReader(`{"days":-1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerEnqueueWithoutQueue(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/arrears/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
