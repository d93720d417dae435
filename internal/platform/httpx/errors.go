// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// Extender lets an error attach extra members to its problem document.
type Extender interface {
	ProblemExtensions() map[string]any
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	RespondErrorLog(w, nil, err)
}

// RespondErrorLog is RespondError that also logs unexpected errors.
func RespondErrorLog(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ext map[string]any
	var extender Extender
	if errors.As(err, &extender) {
		ext = extender.ProblemExtensions()
	}
	switch {
	case errors.Is(err, shared.ErrInvoiceClosed):
		ProblemWith(w, http.StatusConflict, "Invoice Closed", err.Error(), ext)
	case errors.Is(err, shared.ErrUnsettled):
		ProblemWith(w, http.StatusConflict, "Unsettled Items", err.Error(), ext)
	case errors.Is(err, shared.ErrValidation):
		ProblemWith(w, http.StatusBadRequest, "Validation Failed", err.Error(), ext)
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case shared.IsSerializationFailure(err):
		w.Header().Set("Retry-After", "1")
		ProblemWith(w, http.StatusConflict, "Concurrent Update", "the invoice was changed by another request, retry", map[string]any{"retryable": true})
	default:
		if logger != nil {
			logger.Error("unhandled error", slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
