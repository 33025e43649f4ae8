package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/stretchr/testify/require"
)

type fakeFrames struct {
	err error
}

func (f *fakeFrames) Capture(ctx context.Context) (Frame, error) {
	if f.err != nil {
		return Frame{}, f.err
	}
	return Frame{Data: []byte("jpeg"), ContentType: "image/jpeg", CapturedAt: time.Now()}, nil
}

type fakeDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
}

func (f *fakeDetector) set(detections ...Detection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detections = detections
}

func (f *fakeDetector) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detections, f.err
}

type fakeStore struct {
	entries []facematch.ReferenceEntry
	err     error
}

func (f *fakeStore) ListEnrolled(ctx context.Context, filter GroupFilter) ([]facematch.ReferenceEntry, error) {
	return f.entries, f.err
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []AttendanceRecord
	err   error
	// release, when set, blocks Record until it is closed.
	release chan struct{}
	entered chan struct{}
}

func (f *fakeRecorder) Record(ctx context.Context, rec AttendanceRecord) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	release := f.release
	entered := f.entered
	err := f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return "", err
	}
	return "evt-1", nil
}

func (f *fakeRecorder) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRecorder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakePublisher) Publish(ctx context.Context, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// descriptor returns a valid descriptor whose first element is v.
func descriptor(v float32) facematch.Descriptor {
	d := make(facematch.Descriptor, facematch.DescriptorDim)
	d[0] = v
	return d
}

type harness struct {
	session   *Session
	frames    *fakeFrames
	detector  *fakeDetector
	store     *fakeStore
	recorder  *fakeRecorder
	publisher *fakePublisher
	events    chan Event
}

// newHarness builds a session with a tick interval long enough that tests drive ticks
// by hand through runTick.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		frames:   &fakeFrames{},
		detector: &fakeDetector{},
		store: &fakeStore{entries: []facematch.ReferenceEntry{
			{IdentityID: "S1", DisplayName: "Ana", GroupKey: "7A", Descriptor: descriptor(0)},
			{IdentityID: "S2", DisplayName: "Budi", GroupKey: "7A", Descriptor: descriptor(10)},
		}},
		recorder:  &fakeRecorder{},
		publisher: &fakePublisher{},
	}

	s, err := NewSession("sess-1", GroupFilter{Section: "7A", Subject: "math"}, h.frames, Options{
		Threshold:     0.6,
		TickInterval:  time.Hour,
		RecordTimeout: time.Second,
		Location:      time.UTC,
	}, Deps{
		Detector:  h.detector,
		Store:     h.store,
		Recorder:  h.recorder,
		Publisher: h.publisher,
	})
	require.NoError(t, err)

	h.session = s
	h.events = s.AddListener()
	t.Cleanup(s.Stop)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background()))
}

// runTick performs one tick in the current generation and waits for record calls.
func (h *harness) runTick() {
	h.session.tick(context.Background(), h.session.currentGeneration())
	h.session.Wait()
}

// drain returns the events buffered so far.
func (h *harness) drain() []EventType {
	var types []EventType
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				return types
			}
			types = append(types, ev.Type)
		default:
			return types
		}
	}
}

func (s *Session) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}
