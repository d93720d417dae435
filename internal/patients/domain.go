// Package patients keeps the patient registry used when opening invoices.
package patients

import (
	"strings"
	"time"
)

// Patient is a registered patient.
type Patient struct {
	ID            int64     `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	NationalID    *string   `json:"national_id,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	IsForeign     bool      `json:"is_foreign"`
	InsuranceType string    `json:"insurance_type,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// FullName joins first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Registration is what reception captures at the desk.
type Registration struct {
	FirstName     string `json:"first_name" validate:"required,max=100"`
	LastName      string `json:"last_name" validate:"required,max=100"`
	NationalID    string `json:"national_id"`
	Phone         string `json:"phone"`
	IsForeign     bool   `json:"is_foreign"`
	InsuranceType string `json:"insurance_type" validate:"max=120"`
}
