package shift

import (
	"time"
)

// Name is one of the three manually selected shifts.
type Name string

const (
	Morning Name = "morning"
	Evening Name = "evening"
	Night   Name = "night"
)

// Valid reports whether n is a known shift.
func (n Name) Valid() bool {
	switch n {
	case Morning, Evening, Night:
		return true
	}
	return false
}

// nightCutoff is the local time before which a night shift belongs to the previous work date.
const (
	nightCutoffHour   = 7
	nightCutoffMinute = 30
)

// ActorShift is the shift an actor is currently working, fixed at shift start.
type ActorShift struct {
	ActorID   int64     `json:"actor_id"`
	Shift     Name      `json:"shift"`
	WorkDate  time.Time `json:"work_date"`
	StartedAt time.Time `json:"started_at"`
}

// Key returns the (work_date, shift) grouping key.
func (s ActorShift) Key() Key {
	return Key{WorkDate: s.WorkDate, Shift: s.Shift}
}

// Key groups ledger writes and reports.
type Key struct {
	WorkDate time.Time `json:"work_date"`
	Shift    Name      `json:"shift"`
}

// Assignment records who was on duty for a shift.
type Assignment struct {
	WorkDate   time.Time `json:"work_date"`
	Shift      Name      `json:"shift"`
	DoctorID   *int64    `json:"doctor_id,omitempty"`
	DoctorName string    `json:"doctor_name,omitempty"`
	NurseID    *int64    `json:"nurse_id,omitempty"`
	NurseName  string    `json:"nurse_name,omitempty"`
}

// HasDoctor reports whether a doctor is on duty.
func (a Assignment) HasDoctor() bool { return a.DoctorID != nil }

// HasNurse reports whether a nurse is on duty.
func (a Assignment) HasNurse() bool { return a.NurseID != nil }

// ChangeInput selects a new shift for the actor. WorkDate is optional.
type ChangeInput struct {
	Shift    string     `json:"shift" validate:"required,oneof=morning evening night"`
	WorkDate *time.Time `json:"work_date"`
}

// AssignInput fills the duty slots of a shift. Missing WorkDate/Shift fall back to the actor's current shift.
type AssignInput struct {
	WorkDate *time.Time `json:"work_date"`
	Shift    string     `json:"shift" validate:"omitempty,oneof=morning evening night"`
	DoctorID *int64     `json:"doctor_id" validate:"omitempty,gt=0"`
	NurseID  *int64     `json:"nurse_id" validate:"omitempty,gt=0"`
}

// DateOf truncates t to its calendar date in loc, returned as a UTC midnight value.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// WorkDateFor resolves the work date for a shift started at now. A night shift
// started before 07:30 local time belongs to the previous calendar day.
func WorkDateFor(shift Name, now time.Time, loc *time.Location) time.Time {
	today := DateOf(now, loc)
	if shift != Night {
		return today
	}
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if local.Hour() < nightCutoffHour || (local.Hour() == nightCutoffHour && local.Minute() < nightCutoffMinute) {
		return today.AddDate(0, 0, -1)
	}
	return today
}
