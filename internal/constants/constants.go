// Package constants provides shared constants used across the codebase.
package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for session event listener channels
	EventChannelBuffer = 100
)

// Frame constants
const (
	// MaxFrameUploadSize is the maximum accepted body size for pushed frames (10MB)
	MaxFrameUploadSize = 10 << 20

	// DefaultJPEGQuality is used when re-encoding downscaled frames
	DefaultJPEGQuality = 90
)

// Enrollment constants
const (
	// DefaultEnrollmentListLimit caps enrollment listings per request
	DefaultEnrollmentListLimit = 1000

	// DefaultCollisionNeighbors is how many nearest enrollments are inspected for a collision
	DefaultCollisionNeighbors = 5
)

// Calibration constants
const (
	// CalibrationHistogramBins is the number of buckets in the distance histogram
	CalibrationHistogramBins = 20
)
