package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/attendance-scanner/internal/capture"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/database/mock"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/kozaktomas/attendance-scanner/internal/recorder"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// descriptor returns a valid descriptor whose first element is v
func descriptor(v float32) facematch.Descriptor {
	d := make(facematch.Descriptor, facematch.DescriptorDim)
	d[0] = v
	return d
}

// jsonBody encodes v as a request body
func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

// decodeBody decodes a JSON response body into v
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// testJPEG returns a small encoded image
func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := range 24 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// photoForm builds a multipart body with a "file" part and the given fields
func photoForm(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if data != nil {
		part, err := mw.CreateFormFile("file", "face.jpg")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// fakeDescriber returns a fixed descriptor or error
type fakeDescriber struct {
	descriptor facematch.Descriptor
	err        error
}

func (f *fakeDescriber) Describe(ctx context.Context, imageData []byte) (facematch.Descriptor, error) {
	return f.descriptor, f.err
}

// fakeDetector never finds a face
type fakeDetector struct{}

func (fakeDetector) Detect(ctx context.Context, frame scan.Frame) ([]scan.Detection, error) {
	return nil, nil
}

// seededStore returns an enrollment store with two students in 7A and one in 7B
func seededStore() *mock.MockEnrollmentStore {
	store := mock.NewMockEnrollmentStore()
	store.AddEnrollment(database.Enrollment{IdentityID: "S1", DisplayName: "Ana Nováková", Section: "7A", Descriptor: descriptor(0)})
	store.AddEnrollment(database.Enrollment{IdentityID: "S2", DisplayName: "Budi Santoso", Section: "7A", Descriptor: descriptor(10)})
	store.AddEnrollment(database.Enrollment{IdentityID: "S3", DisplayName: "Cecil Dvořák", Section: "7B", Descriptor: descriptor(20)})
	return store
}

// newTestManager creates a session manager backed by mock stores
func newTestManager(t *testing.T, store database.EnrollmentReader) *scan.Manager {
	t.Helper()
	m := scan.NewManager(scan.Options{
		Threshold:     0.6,
		TickInterval:  time.Hour,
		RecordTimeout: time.Second,
		Location:      time.UTC,
	}, scan.Deps{
		Detector: fakeDetector{},
		Store:    database.NewReferenceStore(store),
		Recorder: recorder.NewDatabaseRecorder(mock.NewMockAttendanceStore()),
	})
	t.Cleanup(m.Shutdown)
	return m
}

// pushSources always builds push sources
func pushSources(kind string) (scan.FrameSource, error) {
	return capture.NewPushSource(640), nil
}
