package database

import (
	"errors"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Enrollment is one stored face sample of a student. A student may have several
// enrollments, one per captured angle.
type Enrollment struct {
	ID          int64     `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Section     string    `json:"section"`
	Descriptor  []float32 `json:"descriptor,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Reference converts the enrollment into a matcher candidate.
func (e *Enrollment) Reference() facematch.ReferenceEntry {
	return facematch.ReferenceEntry{
		IdentityID:  e.IdentityID,
		DisplayName: e.DisplayName,
		GroupKey:    e.Section,
		Descriptor:  e.Descriptor,
	}
}

// Attendance is one stored attendance row.
type Attendance struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Section    string    `json:"section"`
	Subject    string    `json:"subject"`
	Date       string    `json:"date"` // YYYY-MM-DD
	RecordedAt time.Time `json:"recorded_at"`
	Status     string    `json:"status"`
}

// SectionSummary counts enrollments of one section.
type SectionSummary struct {
	Section    string `json:"section"`
	Identities int    `json:"identities"`
	Samples    int    `json:"samples"`
	Malformed  int    `json:"malformed"`
}
