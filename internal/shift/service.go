package shift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-clinic/internal/shared"
)

// Repository persists actor shifts and shift staff assignments.
type Repository interface {
	// InitActorShift inserts s unless the actor already has a shift, returning the stored row.
	InitActorShift(ctx context.Context, s ActorShift) (ActorShift, error)
	SaveActorShift(ctx context.Context, s ActorShift) error
	// MergeAssignment fills only the empty slots of the (work_date, shift) row.
	MergeAssignment(ctx context.Context, a Assignment) (Assignment, error)
	LoadAssignment(ctx context.Context, workDate time.Time, shift Name) (Assignment, error)
}

// Service normalizes wall-clock time into (work_date, shift) keys per actor.
type Service struct {
	repo     Repository
	loc      *time.Location
	now      func() time.Time
	validate *validator.Validate
}

// NewService constructs a Service using loc as the clinic wall clock.
func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo:     repo,
		loc:      loc,
		now:      time.Now,
		validate: shared.NewValidator(),
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Today returns the clinic's calendar date.
func (s *Service) Today() time.Time {
	return DateOf(s.now(), s.loc)
}

// Current returns the actor's shift, initialising (morning, today) on first use.
func (s *Service) Current(ctx context.Context, actor shared.Actor) (ActorShift, error) {
	if err := actor.Validate(); err != nil {
		return ActorShift{}, err
	}
	now := s.now()
	current, err := s.repo.InitActorShift(ctx, ActorShift{
		ActorID:   actor.ID,
		Shift:     Morning,
		WorkDate:  DateOf(now, s.loc),
		StartedAt: now,
	})
	if err != nil {
		return ActorShift{}, fmt.Errorf("shift: load current: %w", err)
	}
	return current, nil
}

// CurrentShift returns the actor's selected shift.
func (s *Service) CurrentShift(ctx context.Context, actor shared.Actor) (Name, error) {
	current, err := s.Current(ctx, actor)
	if err != nil {
		return "", err
	}
	return current.Shift, nil
}

// CurrentWorkDate returns the work date fixed when the actor's shift started.
func (s *Service) CurrentWorkDate(ctx context.Context, actor shared.Actor) (time.Time, error) {
	current, err := s.Current(ctx, actor)
	if err != nil {
		return time.Time{}, err
	}
	return current.WorkDate, nil
}

// ChangeShift records an explicit shift selection by the actor.
func (s *Service) ChangeShift(ctx context.Context, actor shared.Actor, in ChangeInput) (ActorShift, error) {
	if err := actor.Validate(); err != nil {
		return ActorShift{}, err
	}
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return ActorShift{}, err
	}
	name := Name(in.Shift)
	now := s.now()
	workDate := WorkDateFor(name, now, s.loc)
	if in.WorkDate != nil && !in.WorkDate.IsZero() {
		workDate = DateOf(*in.WorkDate, time.UTC)
	}
	next := ActorShift{
		ActorID:   actor.ID,
		Shift:     name,
		WorkDate:  workDate,
		StartedAt: now,
	}
	if err := s.repo.SaveActorShift(ctx, next); err != nil {
		return ActorShift{}, fmt.Errorf("shift: change: %w", err)
	}
	return next, nil
}

// AssignStaff fills the on-duty doctor and/or nurse for a shift without overwriting set slots.
func (s *Service) AssignStaff(ctx context.Context, actor shared.Actor, in AssignInput) (Assignment, error) {
	if err := shared.ValidateStruct(s.validate, in); err != nil {
		return Assignment{}, err
	}
	if in.DoctorID == nil && in.NurseID == nil {
		return Assignment{}, shared.Invalid("doctor_id", "or nurse_id is required")
	}
	key := Key{Shift: Name(in.Shift)}
	if in.WorkDate != nil {
		key.WorkDate = DateOf(*in.WorkDate, time.UTC)
	}
	if key.WorkDate.IsZero() || key.Shift == "" {
		current, err := s.Current(ctx, actor)
		if err != nil {
			return Assignment{}, err
		}
		if key.WorkDate.IsZero() {
			key.WorkDate = current.WorkDate
		}
		if key.Shift == "" {
			key.Shift = current.Shift
		}
	}
	merged, err := s.repo.MergeAssignment(ctx, Assignment{
		WorkDate: key.WorkDate,
		Shift:    key.Shift,
		DoctorID: in.DoctorID,
		NurseID:  in.NurseID,
	})
	if err != nil {
		return Assignment{}, fmt.Errorf("shift: assign staff: %w", err)
	}
	return merged, nil
}

// Assignment returns who is on duty; an unstaffed shift yields an empty assignment.
func (s *Service) Assignment(ctx context.Context, workDate time.Time, shift Name) (Assignment, error) {
	a, err := s.repo.LoadAssignment(ctx, workDate, shift)
	if errors.Is(err, shared.ErrNotFound) {
		return Assignment{WorkDate: workDate, Shift: shift}, nil
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("shift: load assignment: %w", err)
	}
	return a, nil
}
