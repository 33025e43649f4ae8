// Package scan runs attendance scanning sessions: a timer-driven loop that captures a
// frame, matches the best detected face against the enrolled students of a section and
// records attendance at most once per student per session.
package scan

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

var (
	// ErrDuplicate is returned by a Recorder when attendance for the identity is
	// already stored for the day. It is the authoritative duplicate signal.
	ErrDuplicate = errors.New("attendance already recorded")

	// ErrNoFrame is returned by a FrameSource when no new frame is available yet.
	ErrNoFrame = errors.New("no frame available")

	// ErrInvalidFilter is returned when a session is created without section or subject.
	ErrInvalidFilter = errors.New("section and subject are required")

	// ErrNotIdle is returned when starting a session that is already scanning.
	ErrNotIdle = errors.New("session is already scanning")

	// ErrSessionNotFound is returned by the Manager for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
)

// Frame is one captured image, encoded (JPEG or PNG).
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Detection is one face found in a frame.
type Detection struct {
	Descriptor facematch.Descriptor
	Score      float64 // detector confidence
}

// GroupFilter selects the class being scanned.
type GroupFilter struct {
	Section string `json:"section"`
	Subject string `json:"subject"`
}

// Valid reports whether both section and subject are set.
func (f GroupFilter) Valid() bool {
	return f.Section != "" && f.Subject != ""
}

// AttendanceRecord is what gets written for an accepted match.
type AttendanceRecord struct {
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Section     string    `json:"section"`
	Subject     string    `json:"subject"`
	Date        string    `json:"date"` // attendance day, YYYY-MM-DD in the configured timezone
	RecordedAt  time.Time `json:"recorded_at"`
	Status      string    `json:"status"`
}

// StatusPresent is the only status written by the scanner.
const StatusPresent = "present"

// FrameSource yields the current camera frame.
type FrameSource interface {
	Capture(ctx context.Context) (Frame, error)
}

// DescriptorSource finds faces in a frame and returns one descriptor per face.
type DescriptorSource interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// ReferenceStore lists the enrolled face samples for a group.
type ReferenceStore interface {
	ListEnrolled(ctx context.Context, filter GroupFilter) ([]facematch.ReferenceEntry, error)
}

// Recorder persists attendance. Implementations return an error wrapping ErrDuplicate
// when the record already exists.
type Recorder interface {
	Record(ctx context.Context, rec AttendanceRecord) (eventID string, err error)
}

// Publisher forwards session events to other consumers (optional).
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// BestDetection returns the descriptor of the highest-scoring detection with a valid
// descriptor. Ties keep the first detection.
func BestDetection(detections []Detection) (facematch.Descriptor, bool) {
	best := -1
	bestScore := math.Inf(-1)
	for i := range detections {
		if !detections[i].Descriptor.Valid() {
			continue
		}
		if best == -1 || detections[i].Score > bestScore {
			best = i
			bestScore = detections[i].Score
		}
	}
	if best == -1 {
		return nil, false
	}
	return detections[best].Descriptor, true
}

// MalformedDetections counts detections whose descriptor has the wrong dimension.
func MalformedDetections(detections []Detection) int {
	n := 0
	for i := range detections {
		if !detections[i].Descriptor.Valid() {
			n++
		}
	}
	return n
}
