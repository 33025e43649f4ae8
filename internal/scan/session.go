package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/kozaktomas/attendance-scanner/internal/logger"
	"github.com/kozaktomas/attendance-scanner/internal/metrics"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateScanning State = "scanning"
)

// Options are the tunables of a session.
type Options struct {
	Threshold     float64
	TickInterval  time.Duration
	RecordTimeout time.Duration
	Location      *time.Location // attendance day boundary, defaults to time.Local
}

// Deps are the collaborators shared by every session of a Manager.
type Deps struct {
	Detector  DescriptorSource
	Store     ReferenceStore
	Recorder  Recorder
	Publisher Publisher // optional
	Logger    *logger.Logger
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID         string     `json:"id"`
	Section    string     `json:"section"`
	Subject    string     `json:"subject"`
	State      State      `json:"state"`
	Threshold  float64    `json:"threshold"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Candidates int        `json:"candidates"`
	Malformed  int        `json:"malformed"`
	Ticks      int64      `json:"ticks"`
	Recorded   int64      `json:"recorded"`
	Duplicates int64      `json:"duplicates"`
	Errors     int64      `json:"errors"`
	// MalformedFaces counts detections whose descriptor had the wrong dimension.
	MalformedFaces int64    `json:"malformed_faces"`
	Scanned        []string `json:"scanned"`
}

// Session scans one class. Ticks never overlap; record calls run in the background and
// their results are dropped once the session has been stopped or restarted.
type Session struct {
	EventBroadcaster

	id      string
	filter  GroupFilter
	opts    Options
	matcher *facematch.Matcher
	frames  FrameSource
	deps    Deps
	log     *logger.Logger
	now     func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu         sync.RWMutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	candidates []facematch.ReferenceEntry
	malformed  int
	startedAt  time.Time
	stoppedAt  time.Time

	scanned  *ScanSet
	inflight sync.WaitGroup

	ticks          atomic.Int64
	recorded       atomic.Int64
	duplicates     atomic.Int64
	failures       atomic.Int64
	malformedFaces atomic.Int64
}

// NewSession creates an idle session.
func NewSession(id string, filter GroupFilter, frames FrameSource, opts Options, deps Deps) (*Session, error) {
	if !filter.Valid() {
		return nil, ErrInvalidFilter
	}
	if frames == nil || deps.Detector == nil || deps.Store == nil || deps.Recorder == nil {
		return nil, errors.New("frame source, detector, reference store and recorder are required")
	}
	if opts.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %v", opts.TickInterval)
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	matcher, err := facematch.NewMatcher(opts.Threshold)
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Session{
		id:      id,
		filter:  filter,
		opts:    opts,
		matcher: matcher,
		frames:  frames,
		deps:    deps,
		log:     log.With("session", id, "section", filter.Section, "subject", filter.Subject),
		now:     time.Now,
		state:   StateIdle,
		scanned: NewScanSet(),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Filter() GroupFilter { return s.filter }

// Frames returns the session's frame source.
func (s *Session) Frames() FrameSource { return s.frames }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start loads the section's enrollments and begins the detection loop. The loop is
// detached from ctx's cancellation; only Stop ends it.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() != StateIdle {
		return ErrNotIdle
	}

	entries, err := s.deps.Store.ListEnrolled(ctx, s.filter)
	if err != nil {
		return fmt.Errorf("loading enrolled students: %w", err)
	}
	valid, malformed := facematch.ValidateEntries(facematch.FilterByGroup(entries, s.filter.Section))
	if len(malformed) > 0 {
		s.log.Warn("skipping enrollments with malformed descriptors", "count", len(malformed))
	}
	metrics.MalformedReferences.WithLabelValues(s.filter.Section).Set(float64(len(malformed)))
	if len(valid) == 0 {
		s.log.Warn("no usable enrollments for section, every face will be unrecognized")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.scanned.Reset()
	s.candidates = valid
	s.malformed = len(malformed)
	s.state = StateScanning
	s.cancel = cancel
	s.done = done
	s.startedAt = s.now()
	s.stoppedAt = time.Time{}
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	go s.loop(loopCtx, gen, done)

	s.log.Info("scan session started", "candidates", len(valid), "threshold", s.opts.Threshold)
	s.SendEvent(s.newEvent(EventStarted))
	return nil
}

// Stop ends the detection loop and clears the scan set. It waits for the current tick
// to return but not for in-flight record calls. Stopping an idle session is a no-op.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.generation++
	s.scanned.Reset()
	s.state = StateIdle
	s.stoppedAt = s.now()
	done := s.done
	s.mu.Unlock()

	<-done
	metrics.ActiveSessions.Dec()

	s.log.Info("scan session stopped",
		"ticks", s.ticks.Load(),
		"recorded", s.recorded.Load(),
		"duplicates", s.duplicates.Load(),
		"errors", s.failures.Load())
	s.SendEvent(s.newEvent(EventStopped))
}

// ResetScanned clears the scan set without stopping, used at the attendance day rollover.
func (s *Session) ResetScanned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned.Reset()
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		ID:         s.id,
		Section:    s.filter.Section,
		Subject:    s.filter.Subject,
		State:      s.state,
		Threshold:  s.opts.Threshold,
		Candidates: len(s.candidates),
		Malformed:  s.malformed,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		st.StartedAt = &t
	}
	if !s.stoppedAt.IsZero() {
		t := s.stoppedAt
		st.StoppedAt = &t
	}
	s.mu.RUnlock()

	st.Ticks = s.ticks.Load()
	st.Recorded = s.recorded.Load()
	st.Duplicates = s.duplicates.Load()
	st.Errors = s.failures.Load()
	st.MalformedFaces = s.malformedFaces.Load()
	st.Scanned = s.scanned.IDs()
	return st
}

// Wait blocks until every dispatched record call has returned. Each call is bounded
// by RecordTimeout.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// StartedAt returns when the session was last started.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// stoppedSince reports whether the session is idle and was stopped before t.
func (s *Session) stoppedSince(t time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateIdle && !s.stoppedAt.IsZero() && s.stoppedAt.Before(t)
}

func (s *Session) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, gen)
		}
	}
}

// tick runs one capture, detect, match and accept cycle.
func (s *Session) tick(ctx context.Context, gen uint64) {
	s.ticks.Add(1)
	metrics.Ticks.Inc()

	frame, err := s.frames.Capture(ctx)
	if errors.Is(err, ErrNoFrame) {
		return
	}
	if err != nil {
		s.tickError(ctx, gen, "capture", err)
		return
	}

	detections, err := s.deps.Detector.Detect(ctx, frame)
	if err != nil {
		s.tickError(ctx, gen, "detect", err)
		return
	}

	if n := MalformedDetections(detections); n > 0 {
		s.malformedFaces.Add(int64(n))
		metrics.MalformedDetections.Add(float64(n))
		s.log.Warn("descriptor source returned faces with the wrong dimension", "count", n, "want", facematch.DescriptorDim)
	}

	probe, ok := BestDetection(detections)
	if !ok {
		metrics.MatchOutcomes.WithLabelValues(string(EventNoFace)).Inc()
		s.emit(gen, s.newEvent(EventNoFace))
		return
	}

	s.mu.RLock()
	candidates := s.candidates
	s.mu.RUnlock()

	result, _ := s.matcher.Match(probe, candidates, nil)
	if !result.Matched {
		metrics.MatchOutcomes.WithLabelValues(string(EventNotRecognized)).Inc()
		ev := s.newEvent(EventNotRecognized)
		ev.Distance = FiniteDistance(result.Distance)
		s.emit(gen, ev)
		return
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	accepted := s.scanned.TryMark(result.IdentityID)
	if accepted {
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	ev := s.matchEvent(EventRecognized, result)
	if !accepted {
		ev.Type = EventAlreadyScanned
		metrics.MatchOutcomes.WithLabelValues(string(EventAlreadyScanned)).Inc()
		s.emit(gen, ev)
		return
	}

	metrics.MatchOutcomes.WithLabelValues(string(EventRecognized)).Inc()
	s.emit(gen, ev)
	go s.record(gen, result, s.now())
}

// record calls the recorder on a context detached from the session and applies the
// outcome only if the session generation is unchanged.
func (s *Session) record(gen uint64, match facematch.MatchResult, at time.Time) {
	defer s.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RecordTimeout)
	defer cancel()

	rec := AttendanceRecord{
		IdentityID:  match.IdentityID,
		DisplayName: match.DisplayName,
		Section:     s.filter.Section,
		Subject:     s.filter.Subject,
		Date:        at.In(s.opts.Location).Format(time.DateOnly),
		RecordedAt:  at,
		Status:      StatusPresent,
	}
	eventID, err := s.deps.Recorder.Record(ctx, rec)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		metrics.RecordResults.WithLabelValues("dropped").Inc()
		s.log.Debug("dropping record result of a stopped session", "identity_id", match.IdentityID, "error", err)
		return
	}
	switch {
	case errors.Is(err, ErrDuplicate):
		s.scanned.Mark(match.IdentityID)
	case err != nil:
		s.scanned.Unmark(match.IdentityID)
	}
	s.mu.Unlock()

	ev := s.matchEvent(EventRecorded, match)
	switch {
	case err == nil:
		s.recorded.Add(1)
		metrics.RecordResults.WithLabelValues("recorded").Inc()
		ev.EventID = eventID
		s.log.Info("attendance recorded", "identity_id", match.IdentityID, "event_id", eventID, "distance", match.Distance)
		s.publish(ctx, ev)
	case errors.Is(err, ErrDuplicate):
		s.duplicates.Add(1)
		metrics.RecordResults.WithLabelValues("duplicate").Inc()
		ev.Type = EventAlreadyScanned
		ev.Message = "attendance already recorded today"
	default:
		s.failures.Add(1)
		metrics.RecordResults.WithLabelValues("error").Inc()
		ev.Type = EventError
		ev.Message = err.Error()
		s.log.Warn("recording attendance failed, will retry on a later match", "identity_id", match.IdentityID, "error", err)
	}
	s.emit(gen, ev)
}

func (s *Session) publish(ctx context.Context, ev Event) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("publishing attendance event failed", "error", err)
	}
}

func (s *Session) tickError(ctx context.Context, gen uint64, stage string, err error) {
	if ctx.Err() != nil {
		return
	}
	s.failures.Add(1)
	metrics.TickErrors.WithLabelValues(stage).Inc()
	s.log.Warn("scan tick failed", "stage", stage, "error", err)

	ev := s.newEvent(EventError)
	ev.Message = fmt.Sprintf("%s: %v", stage, err)
	s.emit(gen, ev)
}

// emit sends ev unless the session moved on to another generation.
func (s *Session) emit(gen uint64, ev Event) {
	s.mu.RLock()
	current := s.generation == gen
	s.mu.RUnlock()
	if current {
		s.SendEvent(ev)
	}
}

func (s *Session) newEvent(t EventType) Event {
	return Event{
		Type:      t,
		SessionID: s.id,
		Section:   s.filter.Section,
		Subject:   s.filter.Subject,
		Time:      s.now(),
	}
}

func (s *Session) matchEvent(t EventType, m facematch.MatchResult) Event {
	ev := s.newEvent(t)
	ev.IdentityID = m.IdentityID
	ev.DisplayName = m.DisplayName
	ev.Distance = FiniteDistance(m.Distance)
	return ev
}
