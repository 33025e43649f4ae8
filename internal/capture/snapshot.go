package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// DefaultStillThreshold is the dHash distance under which two snapshots are treated
// as the same scene.
const DefaultStillThreshold = 2

// SnapshotSource fetches a JPEG from a camera snapshot URL on every capture.
type SnapshotSource struct {
	url     string
	maxSize int
	client  *http.Client

	mu    sync.Mutex
	still stillFilter
}

// NewSnapshotSource creates a snapshot source. Frames within stillThreshold of the
// previous one are reported as scan.ErrNoFrame; pass -1 to disable that.
func NewSnapshotSource(url string, maxSize, stillThreshold int) *SnapshotSource {
	return &SnapshotSource{
		url:     url,
		maxSize: maxSize,
		client:  &http.Client{Timeout: 10 * time.Second},
		still:   stillFilter{threshold: stillThreshold},
	}
}

// Capture fetches and prepares one snapshot.
func (s *SnapshotSource) Capture(ctx context.Context) (scan.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return scan.Frame{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return scan.Frame{}, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scan.Frame{}, fmt.Errorf("snapshot error (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxFrameUploadSize+1))
	if err != nil {
		return scan.Frame{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) > constants.MaxFrameUploadSize {
		return scan.Frame{}, fmt.Errorf("snapshot too large")
	}

	p, err := Prepare(data, s.maxSize)
	if err != nil {
		return scan.Frame{}, err
	}

	s.mu.Lock()
	still := s.still.still(p.Hash)
	s.mu.Unlock()
	if still {
		return scan.Frame{}, scan.ErrNoFrame
	}

	return scan.Frame{Data: p.Data, ContentType: p.ContentType, CapturedAt: time.Now()}, nil
}

// Reset forgets the previous snapshot so the next capture is always returned.
func (s *SnapshotSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.still.reset()
}
