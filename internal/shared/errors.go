package shared

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-clinic/internal/ledger"
)

var (
	// ErrNotFound indicates a referenced invoice, line, tariff or catalog row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is wrapped by every ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrInvoiceClosed rejects any mutation against a closed invoice.
	ErrInvoiceClosed = errors.New("invoice is closed")
	// ErrUnsettled is wrapped by errors listing unpaid invoice lines.
	ErrUnsettled = errors.New("invoice has unsettled items")
	// ErrDuplicate indicates a unique constraint conflict.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrForbidden indicates the actor role may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or invalid actor identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError reports a rejected input before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError for a single field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// UnsettledItemsError blocks closing an invoice while lines remain unpaid.
type UnsettledItemsError struct {
	Count int
	Items []ledger.ItemRef
}

func (e *UnsettledItemsError) Error() string {
	return fmt.Sprintf("invoice has %d unsettled items", e.Count)
}

func (e *UnsettledItemsError) Unwrap() error {
	return ErrUnsettled
}

// ProblemExtensions lists the unpaid lines in the problem document.
func (e *UnsettledItemsError) ProblemExtensions() map[string]any {
	return map[string]any{"count": e.Count, "items": e.Items}
}
