package database

import (
	"context"
)

// EnrollmentReader provides read-only access to enrolled face samples
type EnrollmentReader interface {
	// ListBySection returns every enrollment of a section, including ones with a
	// malformed descriptor
	ListBySection(ctx context.Context, section string) ([]Enrollment, error)
	// ListAll returns every enrollment ordered by id
	ListAll(ctx context.Context) ([]Enrollment, error)
	// Count returns the total number of enrollments stored
	Count(ctx context.Context) (int, error)
}

// EnrollmentWriter provides write access to enrollments
type EnrollmentWriter interface {
	EnrollmentReader

	// Save inserts an enrollment and sets its ID and CreatedAt
	Save(ctx context.Context, e *Enrollment) error
	// DeleteByIdentity removes all samples of an identity in a section, returning the
	// deleted ids. Returns ErrNotFound when nothing was deleted.
	DeleteByIdentity(ctx context.Context, identityID, section string) ([]int64, error)
}

// AttendanceWriter stores attendance rows
type AttendanceWriter interface {
	// Insert stores a row unless one already exists for the same identity, section,
	// subject and date. Returns false for such duplicates.
	Insert(ctx context.Context, a *Attendance) (bool, error)
	// ListByDate returns the attendance of a class on a day
	ListByDate(ctx context.Context, section, subject, date string) ([]Attendance, error)
}
