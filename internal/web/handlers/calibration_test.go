package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/attendance-scanner/internal/calibrate"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/database/mock"
)

func TestCalibrationHandler_Report(t *testing.T) {
	store := seededStore()
	store.AddEnrollment(database.Enrollment{IdentityID: "S1", Section: "7A", Descriptor: descriptor(0.3)})
	h := NewCalibrationHandler(store, 0.6)

	tests := []struct {
		name        string
		query       string
		wantCode    int
		wantSamples int
		wantBins    int
	}{
		{"all sections", "", http.StatusOK, 4, 20},
		{"one section", "?section=7A&bins=5", http.StatusOK, 3, 5},
		{"bad bins", "?bins=zero", http.StatusBadRequest, 0, 0},
		{"too many bins", "?bins=1000", http.StatusBadRequest, 0, 0},
		{"single sample", "?section=7B", http.StatusUnprocessableEntity, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Report(rec, httptest.NewRequest(http.MethodGet, "/calibration"+tt.query, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("Report() status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var report calibrate.Report
			decodeBody(t, rec, &report)
			if report.Samples != tt.wantSamples {
				t.Errorf("Samples = %d, want %d", report.Samples, tt.wantSamples)
			}
			if len(report.Histogram) != tt.wantBins {
				t.Errorf("len(Histogram) = %d, want %d", len(report.Histogram), tt.wantBins)
			}
			if report.Genuine.Count != 1 {
				t.Errorf("Genuine.Count = %d, want 1", report.Genuine.Count)
			}
		})
	}
}

func TestCalibrationHandler_EmptyStore(t *testing.T) {
	h := NewCalibrationHandler(mock.NewMockEnrollmentStore(), 0.6)
	rec := httptest.NewRecorder()

	h.Report(rec, httptest.NewRequest(http.MethodGet, "/calibration", nil))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Report() status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}
