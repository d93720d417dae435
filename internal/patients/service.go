package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Service implements patient registration and lookup.
type Service struct {
	repo     Repository
	validate *validator.Validate
}

// NewService constructs a patient Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: shared.NewValidator()}
}

// FindOrCreate returns the patient matching the registration, creating one when
// none exists. A match by national id refreshes the stored details; the
// insurance type is only overwritten when a new one is given.
func (s *Service) FindOrCreate(ctx context.Context, actor shared.Actor, reg Registration) (Patient, error) {
	if err := actor.Validate(); err != nil {
		return Patient{}, err
	}
	reg, err := s.normalize(reg)
	if err != nil {
		return Patient{}, err
	}

	if reg.NationalID != "" {
		existing, err := s.repo.ByNationalID(ctx, reg.NationalID)
		switch {
		case err == nil:
			return s.refresh(ctx, existing, reg)
		case !errors.Is(err, shared.ErrNotFound):
			return Patient{}, err
		}
	} else if reg.Phone != "" {
		existing, err := s.repo.ByNameAndPhone(ctx, reg.FirstName, reg.LastName, reg.Phone)
		switch {
		case err == nil:
			return s.refresh(ctx, existing, reg)
		case !errors.Is(err, shared.ErrNotFound):
			return Patient{}, err
		}
	}

	created, err := s.repo.Insert(ctx, Patient{
		FirstName:     reg.FirstName,
		LastName:      reg.LastName,
		NationalID:    optional(reg.NationalID),
		Phone:         optional(reg.Phone),
		IsForeign:     reg.IsForeign,
		InsuranceType: reg.InsuranceType,
		CreatedBy:     actor.Username,
	})
	if err != nil {
		return Patient{}, fmt.Errorf("patients: create: %w", err)
	}
	return created, nil
}

func (s *Service) normalize(reg Registration) (Registration, error) {
	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)
	reg.InsuranceType = strings.TrimSpace(reg.InsuranceType)
	reg.NationalID = NormalizeDigits(reg.NationalID)
	reg.Phone = NormalizeDigits(reg.Phone)
	if err := shared.ValidateStruct(s.validate, reg); err != nil {
		return reg, err
	}
	if reg.NationalID == "" && !reg.IsForeign {
		return reg, shared.Invalid("national_id", "is required")
	}
	if reg.NationalID != "" && !reg.IsForeign && !ValidNationalID(reg.NationalID) {
		return reg, shared.Invalid("national_id", "is not a valid national id")
	}
	if reg.Phone != "" && !ValidPhone(reg.Phone) {
		return reg, shared.Invalid("phone", "must be 11 digits starting with 09")
	}
	return reg, nil
}

func (s *Service) refresh(ctx context.Context, existing Patient, reg Registration) (Patient, error) {
	next := existing
	next.FirstName = reg.FirstName
	next.LastName = reg.LastName
	next.IsForeign = reg.IsForeign
	if reg.Phone != "" {
		next.Phone = optional(reg.Phone)
	}
	if reg.InsuranceType != "" {
		next.InsuranceType = reg.InsuranceType
	}
	if sameDetails(existing, next) {
		return existing, nil
	}
	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Patient{}, fmt.Errorf("patients: update %d: %w", existing.ID, err)
	}
	return updated, nil
}

// Get loads one patient.
func (s *Service) Get(ctx context.Context, id int64) (Patient, error) {
	return s.repo.Get(ctx, id)
}

// Search matches name, national id or phone.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Patient, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Patient{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if digits := NormalizeDigits(query); allDigits(digits) {
		query = digits
	}
	return s.repo.Search(ctx, query, limit)
}

func sameDetails(a, b Patient) bool {
	return a.FirstName == b.FirstName && a.LastName == b.LastName && a.IsForeign == b.IsForeign &&
		a.InsuranceType == b.InsuranceType && deref(a.Phone) == deref(b.Phone)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
