package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/database/mock"
)

func TestAttendanceHandler_List(t *testing.T) {
	store := mock.NewMockAttendanceStore()
	for _, id := range []string{"S1", "S2"} {
		store.Insert(t.Context(), &database.Attendance{
			IdentityID: id,
			Section:    "7A",
			Subject:    "math",
			Date:       "2026-03-02",
			RecordedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
			Status:     "present",
		})
	}
	h := NewAttendanceHandler(store, time.UTC)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"class on a day", "?section=7A&subject=math&date=2026-03-02", http.StatusOK, 2},
		{"other subject", "?section=7A&subject=art&date=2026-03-02", http.StatusOK, 0},
		{"missing subject", "?section=7A", http.StatusBadRequest, 0},
		{"bad date", "?section=7A&subject=math&date=02.03.2026", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.List(rec, httptest.NewRequest(http.MethodGet, "/attendance"+tt.query, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("List() status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp attendanceResponse
			decodeBody(t, rec, &resp)
			if resp.Count != tt.wantCount || len(resp.Rows) != tt.wantCount {
				t.Errorf("List() count = %d, want %d", resp.Count, tt.wantCount)
			}
		})
	}
}

func TestAttendanceHandler_DefaultsToToday(t *testing.T) {
	h := NewAttendanceHandler(mock.NewMockAttendanceStore(), time.UTC)
	rec := httptest.NewRecorder()

	h.List(rec, httptest.NewRequest(http.MethodGet, "/attendance?section=7A&subject=math", nil))

	var resp attendanceResponse
	decodeBody(t, rec, &resp)
	if want := time.Now().UTC().Format(time.DateOnly); resp.Date != want {
		t.Errorf("Date = %q, want %q", resp.Date, want)
	}
}

func TestAttendanceHandler_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		store database.AttendanceWriter
	}{
		{"remote backend", nil},
		{"store failure", &mock.MockAttendanceStore{ListError: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAttendanceHandler(tt.store, time.UTC)
			rec := httptest.NewRecorder()

			h.List(rec, httptest.NewRequest(http.MethodGet, "/attendance?section=7A&subject=math", nil))

			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("List() status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
		})
	}
}
