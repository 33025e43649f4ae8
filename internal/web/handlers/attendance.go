package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/database"
)

// AttendanceHandler lists attendance stored in the local database
type AttendanceHandler struct {
	store database.AttendanceWriter // nil when attendance goes to a remote backend
	loc   *time.Location
}

// NewAttendanceHandler creates a new attendance handler. store may be nil.
func NewAttendanceHandler(store database.AttendanceWriter, loc *time.Location) *AttendanceHandler {
	if loc == nil {
		loc = time.Local
	}
	return &AttendanceHandler{store: store, loc: loc}
}

type attendanceResponse struct {
	Section string                `json:"section"`
	Subject string                `json:"subject"`
	Date    string                `json:"date"`
	Count   int                   `json:"count"`
	Rows    []database.Attendance `json:"rows"`
}

// List handles GET /attendance?section=&subject=&date=. date defaults to today.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "attendance is recorded remotely")
		return
	}

	q := r.URL.Query()
	section, subject, date := q.Get("section"), q.Get("subject"), q.Get("date")
	if section == "" || subject == "" {
		respondError(w, http.StatusBadRequest, "section and subject are required")
		return
	}
	if date == "" {
		date = time.Now().In(h.loc).Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	rows, err := h.store.ListByDate(r.Context(), section, subject, date)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to load attendance")
		return
	}
	if rows == nil {
		rows = []database.Attendance{}
	}

	respondJSON(w, http.StatusOK, attendanceResponse{
		Section: section,
		Subject: subject,
		Date:    date,
		Count:   len(rows),
		Rows:    rows,
	})
}
