package billing

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

	"github.com/odyssey-erp/odyssey-clinic/internal/patients"
	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), desk)))
		})
	})
	h.MountRoutes(r)
	return r, f
}

func send(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCloseWithUnsettledItems(t *testing.T) {
	router, f := newTestRouter(t)
	inv := f.open(t, "X", nil)

	rec := send(t, router, http.MethodPost, "/invoices/1/visits", `{"notes":"fever"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var line PricedLine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &line))
	assert.Equal(t, inv.ID, line.InvoiceID)
	assert.Equal(t, "120000", line.PatientShare.String())

	rec = send(t, router, http.MethodPost, "/invoices/1/close", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var problem struct {
		Title string `json:"title"`
		Count int    `json:"count"`
		Items []struct {
			Type string `json:"type"`
			ID   int64  `json:"id"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Unsettled Items", problem.Title)
	assert.Equal(t, 1, problem.Count)
	require.Len(t, problem.Items, 1)
	assert.Equal(t, "visit", problem.Items[0].Type)
	assert.Equal(t, line.ID, problem.Items[0].ID)

	rec = send(t, router, http.MethodPost, "/invoices/1/settle", `{"channel":"cash"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = send(t, router, http.MethodPost, "/invoices/1/close", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = send(t, router, http.MethodPost, "/invoices/1/injections", `{"service_name":"IV","unit_price":"1","count":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invoice Closed")
}

func TestHandlerRejectsBadInput(t *testing.T) {
	router, f := newTestRouter(t)
	f.open(t, "X", nil)

	rec := send(t, router, http.MethodPost, "/invoices/1/visits", `{"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, router, http.MethodGet, "/invoices/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(t, router, http.MethodGet, "/invoices/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, router, http.MethodDelete, "/invoices/1/items/visit/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeRegistry struct {
	calls int
}

func (r *fakeRegistry) FindOrCreate(ctx context.Context, actor shared.Actor, reg patients.Registration) (patients.Patient, error) {
	r.calls++
	return patients.Patient{ID: 1, FirstName: reg.FirstName, LastName: reg.LastName, InsuranceType: reg.InsuranceType}, nil
}

func (r *fakeRegistry) Get(ctx context.Context, id int64) (patients.Patient, error) {
	return patients.Patient{}, shared.ErrNotFound
}

type memoryKeys struct {
	seen    map[string]string
	deleted []string
}

func (m *memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := m.seen[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.seen[key] = module
	return nil
}

func (m *memoryKeys) Delete(ctx context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	delete(m.seen, key)
	return nil
}

func TestHandlerRegisterHonoursIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	registry := &fakeRegistry{}
	keys := &memoryKeys{seen: map[string]string{}}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, registry)
	h.WithIdempotency(keys)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), desk)))
		})
	})
	h.MountRoutes(r)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "reg-1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}
	body := `{"first_name":"Ali","last_name":"Rezaei","is_foreign":true,"insurance_type":"X"}`

	rec := post(body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, invoicesRegisterModule(keys), registerModule)

	rec = post(body)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Duplicate Request")
	assert.Equal(t, 1, registry.calls)
	assert.Len(t, f.repo.state.invoices, 1)
}

func TestHandlerRegisterReleasesKeyOnFailure(t *testing.T) {
	f := newFixture(t)
	keys := &memoryKeys{seen: map[string]string{}}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc, &fakeRegistry{})
	h.WithIdempotency(keys)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), desk)))
		})
	})
	h.MountRoutes(r)

	// self-pay with a supplementary insurer is rejected by the service
	req := httptest.NewRequest(http.MethodPost, "/invoices",
		strings.NewReader(`{"first_name":"Ali","last_name":"Rezaei","is_foreign":true,"insurance_type":"آزاد","supplementary_insurance":"Y"}`))
	req.Header.Set("Idempotency-Key", "reg-2")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"3:reg-2"}, keys.deleted)
	assert.Empty(t, keys.seen)
}

func invoicesRegisterModule(m *memoryKeys) string {
	for _, module := range m.seen {
		return module
	}
	return ""
}
