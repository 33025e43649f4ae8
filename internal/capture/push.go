package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// PushSource holds the latest frame uploaded by a client. Each frame is handed to
// the detection loop at most once; older unread frames are overwritten.
type PushSource struct {
	maxSize int

	mu      sync.Mutex
	pending *scan.Frame
	pushed  int64
	dropped int64
}

// NewPushSource creates a push source that downscales frames to maxSize.
func NewPushSource(maxSize int) *PushSource {
	return &PushSource{maxSize: maxSize}
}

// Push validates and stores a frame, replacing any frame not yet captured.
func (s *PushSource) Push(data []byte) error {
	if len(data) > constants.MaxFrameUploadSize {
		return fmt.Errorf("frame too large: %d bytes", len(data))
	}
	p, err := Prepare(data, s.maxSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.dropped++
	}
	s.pending = &scan.Frame{Data: p.Data, ContentType: p.ContentType, CapturedAt: time.Now()}
	s.pushed++
	return nil
}

// Capture returns the pending frame, or scan.ErrNoFrame when nothing new was pushed.
func (s *PushSource) Capture(ctx context.Context) (scan.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return scan.Frame{}, scan.ErrNoFrame
	}
	frame := *s.pending
	s.pending = nil
	return frame, nil
}

// Stats returns how many frames were pushed and how many were overwritten unread.
func (s *PushSource) Stats() (pushed, dropped int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed, s.dropped
}
