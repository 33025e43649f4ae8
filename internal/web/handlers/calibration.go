package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kozaktomas/attendance-scanner/internal/calibrate"
	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
)

// CalibrationHandler reports how well the match threshold separates enrolled students
type CalibrationHandler struct {
	reader    database.EnrollmentReader
	threshold float64
}

// NewCalibrationHandler creates a new calibration handler
func NewCalibrationHandler(reader database.EnrollmentReader, threshold float64) *CalibrationHandler {
	return &CalibrationHandler{reader: reader, threshold: threshold}
}

// Report handles GET /calibration?section=&bins=. Without a section every enrollment
// is compared.
func (h *CalibrationHandler) Report(w http.ResponseWriter, r *http.Request) {
	bins := constants.CalibrationHistogramBins
	if raw := r.URL.Query().Get("bins"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			respondError(w, http.StatusBadRequest, "bins must be between 1 and 200")
			return
		}
		bins = n
	}

	var (
		enrollments []database.Enrollment
		err         error
	)
	section := r.URL.Query().Get("section")
	if section != "" {
		enrollments, err = h.reader.ListBySection(r.Context(), section)
	} else {
		enrollments, err = h.reader.ListAll(r.Context())
	}
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to load enrollments")
		return
	}

	entries := make([]facematch.ReferenceEntry, len(enrollments))
	for i := range enrollments {
		entries[i] = enrollments[i].Reference()
	}

	report, err := calibrate.Run(entries, h.threshold, bins)
	if err != nil {
		if errors.Is(err, calibrate.ErrNoPairs) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "calibration failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
