package db

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Date converts a calendar date into a nullable pgtype.Date; the zero time maps to NULL.
func Date(t time.Time) pgtype.Date {
	if t.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

// TimePtr returns nil for an invalid timestamp.
func TimePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
