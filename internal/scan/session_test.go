package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession_Validation(t *testing.T) {
	deps := Deps{Detector: &fakeDetector{}, Store: &fakeStore{}, Recorder: &fakeRecorder{}}
	opts := Options{Threshold: 0.6, TickInterval: time.Second}

	tests := []struct {
		name    string
		filter  GroupFilter
		frames  FrameSource
		opts    Options
		deps    Deps
		wantErr error
	}{
		{name: "missing section", filter: GroupFilter{Subject: "math"}, frames: &fakeFrames{}, opts: opts, deps: deps, wantErr: ErrInvalidFilter},
		{name: "missing subject", filter: GroupFilter{Section: "7A"}, frames: &fakeFrames{}, opts: opts, deps: deps, wantErr: ErrInvalidFilter},
		{name: "negative threshold", filter: GroupFilter{Section: "7A", Subject: "math"}, frames: &fakeFrames{}, opts: Options{Threshold: -1, TickInterval: time.Second}, deps: deps, wantErr: facematch.ErrInvalidThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession("id", tt.filter, tt.frames, tt.opts, tt.deps)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("missing recorder", func(t *testing.T) {
		_, err := NewSession("id", GroupFilter{Section: "7A", Subject: "math"}, &fakeFrames{}, opts, Deps{Detector: &fakeDetector{}, Store: &fakeStore{}})
		assert.Error(t, err)
	})

	t.Run("zero tick interval", func(t *testing.T) {
		_, err := NewSession("id", GroupFilter{Section: "7A", Subject: "math"}, &fakeFrames{}, Options{Threshold: 0.6}, deps)
		assert.Error(t, err)
	})
}

func TestSession_StartFailsWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	storeErr := errors.New("connection refused")
	h.store.err = storeErr

	err := h.session.Start(context.Background())

	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Empty(t, h.drain())
}

func TestSession_StartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	err := h.session.Start(context.Background())

	assert.ErrorIs(t, err, ErrNotIdle)
	assert.Equal(t, StateScanning, h.session.State())
}

func TestSession_StartFiltersCandidates(t *testing.T) {
	h := newHarness(t)
	h.store.entries = append(h.store.entries,
		facematch.ReferenceEntry{IdentityID: "S9", GroupKey: "9C", Descriptor: descriptor(0)},
		facematch.ReferenceEntry{IdentityID: "S3", GroupKey: "7A", Descriptor: make(facematch.Descriptor, 12)},
	)

	h.start(t)

	st := h.session.Status()
	assert.Equal(t, 2, st.Candidates)
	assert.Equal(t, 1, st.Malformed)
	assert.Equal(t, StateScanning, st.State)
	require.NotNil(t, st.StartedAt)
}

func TestSession_RecordsAcceptedMatch(t *testing.T) {
	h := newHarness(t)
	fixed := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	h.session.now = func() time.Time { return fixed }
	h.session.opts.Location = time.FixedZone("UTC+2", 2*60*60)
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0.1), Score: 0.9})

	h.runTick()

	require.Equal(t, 1, h.recorder.callCount())
	rec := h.recorder.calls[0]
	assert.Equal(t, "S1", rec.IdentityID)
	assert.Equal(t, "7A", rec.Section)
	assert.Equal(t, "math", rec.Subject)
	assert.Equal(t, "2026-03-02", rec.Date)
	assert.Equal(t, StatusPresent, rec.Status)

	st := h.session.Status()
	assert.Equal(t, int64(1), st.Recorded)
	assert.Equal(t, []string{"S1"}, st.Scanned)
	assert.Equal(t, []EventType{EventStarted, EventRecognized, EventRecorded}, h.drain())

	require.Len(t, h.publisher.events, 1)
	assert.Equal(t, "evt-1", h.publisher.events[0].EventID)
}

func TestSession_RepeatMatchDoesNotRecordTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})

	h.runTick()
	h.runTick()
	h.runTick()

	assert.Equal(t, 1, h.recorder.callCount())
	assert.Equal(t, []EventType{
		EventStarted,
		EventRecognized, EventRecorded,
		EventAlreadyScanned,
		EventAlreadyScanned,
	}, h.drain())
}

func TestSession_DuplicateKeepsMark(t *testing.T) {
	h := newHarness(t)
	h.recorder.setErr(fmt.Errorf("backend said: %w", ErrDuplicate))
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})

	h.runTick()
	h.runTick()

	assert.Equal(t, 1, h.recorder.callCount())
	st := h.session.Status()
	assert.Equal(t, int64(1), st.Duplicates)
	assert.Equal(t, int64(0), st.Recorded)
	assert.Equal(t, []string{"S1"}, st.Scanned)
}

func TestSession_DuplicateAfterResetMarksAgain(t *testing.T) {
	h := newHarness(t)
	h.recorder.setErr(ErrDuplicate)
	h.recorder.release = make(chan struct{})
	h.recorder.entered = make(chan struct{})
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})

	h.session.tick(context.Background(), h.session.currentGeneration())
	<-h.recorder.entered

	// day rollover lands while the record call is in flight
	h.session.ResetScanned()
	h.recorder.mu.Lock()
	h.recorder.entered = nil
	h.recorder.mu.Unlock()
	close(h.recorder.release)
	h.session.Wait()

	assert.Equal(t, []string{"S1"}, h.session.Status().Scanned)

	h.runTick()

	assert.Equal(t, 1, h.recorder.callCount())
	assert.Equal(t, int64(1), h.session.Status().Duplicates)
	assert.Equal(t, []EventType{
		EventStarted,
		EventRecognized, EventAlreadyScanned,
		EventAlreadyScanned,
	}, h.drain())
}

func TestSession_CountsMalformedDetections(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.detector.set(
		Detection{Descriptor: make(facematch.Descriptor, 64), Score: 0.99},
		Detection{Descriptor: descriptor(0), Score: 0.5},
	)

	h.runTick()

	st := h.session.Status()
	assert.Equal(t, int64(1), st.MalformedFaces)
	assert.Equal(t, int64(1), st.Recorded)

	h.detector.set(Detection{Descriptor: make(facematch.Descriptor, 512), Score: 1})
	h.runTick()

	assert.Equal(t, int64(2), h.session.Status().MalformedFaces)
}

func TestSession_FailedRecordIsRetried(t *testing.T) {
	h := newHarness(t)
	h.recorder.setErr(errors.New("timeout"))
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})

	h.runTick()

	assert.Empty(t, h.session.Status().Scanned)
	assert.Equal(t, int64(1), h.session.Status().Errors)

	h.recorder.setErr(nil)
	h.runTick()

	assert.Equal(t, 2, h.recorder.callCount())
	assert.Equal(t, []string{"S1"}, h.session.Status().Scanned)
	assert.Equal(t, []EventType{
		EventStarted,
		EventRecognized, EventError,
		EventRecognized, EventRecorded,
	}, h.drain())
}

func TestSession_StopDropsInFlightResult(t *testing.T) {
	h := newHarness(t)
	h.recorder.release = make(chan struct{})
	h.recorder.entered = make(chan struct{})
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})

	h.session.tick(context.Background(), h.session.currentGeneration())
	<-h.recorder.entered

	h.session.Stop()
	close(h.recorder.release)
	h.session.Wait()

	st := h.session.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, int64(0), st.Recorded)
	assert.Equal(t, int64(0), st.Errors)
	assert.Empty(t, st.Scanned)
	assert.Empty(t, h.publisher.events)
	assert.Equal(t, []EventType{EventStarted, EventRecognized, EventStopped}, h.drain())
}

func TestSession_RestartAllowsRecordingAgain(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})
	h.runTick()

	h.session.Stop()
	h.start(t)
	h.runTick()

	assert.Equal(t, 2, h.recorder.callCount())
}

func TestSession_TickOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		frameErr   error
		detectErr  error
		detections []Detection
		want       []EventType
		wantErrors int64
	}{
		{
			name:     "no new frame is silent",
			frameErr: ErrNoFrame,
			want:     []EventType{EventStarted},
		},
		{
			name:       "capture failure",
			frameErr:   errors.New("camera offline"),
			want:       []EventType{EventStarted, EventError},
			wantErrors: 1,
		},
		{
			name:       "detect failure",
			detectErr:  errors.New("embedding service unavailable"),
			want:       []EventType{EventStarted, EventError},
			wantErrors: 1,
		},
		{
			name: "no face",
			want: []EventType{EventStarted, EventNoFace},
		},
		{
			name:       "only malformed faces",
			detections: []Detection{{Descriptor: make(facematch.Descriptor, 64), Score: 1}},
			want:       []EventType{EventStarted, EventNoFace},
		},
		{
			name:       "stranger",
			detections: []Detection{{Descriptor: descriptor(5), Score: 0.9}},
			want:       []EventType{EventStarted, EventNotRecognized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.frames.err = tt.frameErr
			h.detector.err = tt.detectErr
			h.detector.set(tt.detections...)
			h.start(t)

			h.runTick()

			assert.Equal(t, tt.want, h.drain())
			assert.Equal(t, tt.wantErrors, h.session.Status().Errors)
			assert.Equal(t, int64(1), h.session.Status().Ticks)
			assert.Equal(t, 0, h.recorder.callCount())
		})
	}
}

func TestSession_NotRecognizedCarriesDistance(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(4), Score: 0.9})

	h.runTick()

	var got Event
	for ev := range h.events {
		if ev.Type == EventNotRecognized {
			got = ev
			break
		}
	}
	require.NotNil(t, got.Distance)
	assert.InDelta(t, 4.0, *got.Distance, 1e-6)
}

func TestSession_LoopRecordsOnTicker(t *testing.T) {
	h := newHarness(t)
	h.session.opts.TickInterval = 5 * time.Millisecond
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})
	h.start(t)

	assert.Eventually(t, func() bool {
		return h.session.Status().Recorded == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.session.Stop()
	h.session.Wait()
	assert.Equal(t, 1, h.recorder.callCount())
	assert.Equal(t, StateIdle, h.session.State())
}

func TestSession_StopIdleIsNoop(t *testing.T) {
	h := newHarness(t)

	h.session.Stop()

	assert.Equal(t, StateIdle, h.session.State())
	assert.Empty(t, h.drain())
}

func TestSession_ResetScanned(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})
	h.runTick()

	h.session.ResetScanned()
	h.runTick()

	assert.Equal(t, 2, h.recorder.callCount())
}

func TestFiniteDistance(t *testing.T) {
	assert.Nil(t, FiniteDistance(math.Inf(1)))
	assert.Nil(t, FiniteDistance(math.NaN()))
	d := FiniteDistance(0.25)
	require.NotNil(t, d)
	assert.Equal(t, 0.25, *d)
}

func TestSession_WaitDrainsRecordCalls(t *testing.T) {
	h := newHarness(t)
	h.recorder.release = make(chan struct{})
	h.recorder.entered = make(chan struct{})
	h.start(t)
	h.detector.set(Detection{Descriptor: descriptor(0), Score: 0.9})

	h.session.tick(context.Background(), h.session.currentGeneration())
	<-h.recorder.entered

	waited := make(chan struct{})
	go func() {
		h.session.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a record call was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(h.recorder.release)
	<-waited
	assert.Equal(t, int64(1), h.session.Status().Recorded)
}
