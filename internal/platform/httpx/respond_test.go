package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

type itemsErr struct{}

func (itemsErr) Error() string { return "2 unsettled" }
func (itemsErr) Unwrap() error { return shared.ErrUnsettled }
func (itemsErr) ProblemExtensions() map[string]any {
	return map[string]any{"count": 2}
}

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.Invalid("count", "must be greater than 0"), http.StatusBadRequest},
		{fmt.Errorf("add line: %w", shared.ErrInvoiceClosed), http.StatusConflict},
		{fmt.Errorf("invoice 9: %w", shared.ErrNotFound), http.StatusNotFound},
		{shared.ErrForbidden, http.StatusForbidden},
		{shared.ErrUnauthorized, http.StatusUnauthorized},
		{shared.ErrDuplicate, http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
		assert.Equal(t, problemContentType, rr.Header().Get("Content-Type"))
	}
}

func TestRespondErrorIncludesExtensions(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, itemsErr{})

	require.Equal(t, http.StatusConflict, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Unsettled Items", body["title"])
	assert.EqualValues(t, 2, body["count"])
}

func TestRespondErrorSerializationFailureIsRetryableConflict(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("billing: add visit: %w", &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}))

	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "Concurrent Update", body["title"])
	assert.Equal(t, true, body["retryable"])
}
