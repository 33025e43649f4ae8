package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp"}

// DirSource replays the images of a directory in name order, one per capture.
type DirSource struct {
	files   []string
	maxSize int
	loop    bool

	mu   sync.Mutex
	next int
}

// NewDirSource lists the images in dir. With loop set the replay starts over after
// the last file, otherwise every later capture returns scan.ErrNoFrame.
func NewDirSource(dir string, maxSize int, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.Contains(imageExtensions, ext) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	slices.Sort(files)

	return &DirSource{files: files, maxSize: maxSize, loop: loop}, nil
}

// Len returns the number of images found.
func (s *DirSource) Len() int {
	return len(s.files)
}

// Capture reads the next image.
func (s *DirSource) Capture(ctx context.Context) (scan.Frame, error) {
	s.mu.Lock()
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return scan.Frame{}, scan.ErrNoFrame
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return scan.Frame{}, fmt.Errorf("failed to read frame: %w", err)
	}
	p, err := Prepare(data, s.maxSize)
	if err != nil {
		return scan.Frame{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	return scan.Frame{Data: p.Data, ContentType: p.ContentType, CapturedAt: time.Now()}, nil
}
