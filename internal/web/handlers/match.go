package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/embedding"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// Describer turns a photo into the descriptor of its most confident face.
type Describer interface {
	Describe(ctx context.Context, imageData []byte) (facematch.Descriptor, error)
}

// MatchHandler handles one-shot matching outside of scan sessions
type MatchHandler struct {
	store     scan.ReferenceStore
	describer Describer
	threshold float64
}

// NewMatchHandler creates a new match handler. describer may be nil, which disables
// matching photos.
func NewMatchHandler(store scan.ReferenceStore, describer Describer, threshold float64) *MatchHandler {
	return &MatchHandler{store: store, describer: describer, threshold: threshold}
}

type matchRequest struct {
	Section    string               `json:"section"`
	Descriptor facematch.Descriptor `json:"descriptor"`
	Threshold  *float64             `json:"threshold,omitempty"`
	Exclude    []string             `json:"exclude,omitempty"`
}

// MatchResponse is the result of a one-shot match.
type MatchResponse struct {
	Matched     bool     `json:"matched"`
	IdentityID  string   `json:"identity_id,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Section     string   `json:"section"`
	Distance    *float64 `json:"distance,omitempty"`
	Threshold   float64  `json:"threshold"`
	Compared    int      `json:"compared"`
	Malformed   int      `json:"malformed"`
	Excluded    int      `json:"excluded"`
}

// Match matches a descriptor against the enrolled students of a section
func (h *MatchHandler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if !req.Descriptor.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("descriptor must have %d elements", facematch.DescriptorDim))
		return
	}
	h.match(w, r, req)
}

// MatchPhoto matches the most confident face of an uploaded photo. The multipart form
// carries "section", optional "threshold" and the image as "file".
func (h *MatchHandler) MatchPhoto(w http.ResponseWriter, r *http.Request) {
	if h.describer == nil {
		respondError(w, http.StatusServiceUnavailable, "embedding service not configured")
		return
	}

	data, fields, ok := readPhotoForm(w, r)
	if !ok {
		return
	}

	descriptor, err := h.describer.Describe(r.Context(), data)
	if err != nil {
		respondDescribeError(w, err)
		return
	}

	req := matchRequest{Section: fields.Get("section"), Descriptor: descriptor}
	if t := fields.Get("threshold"); t != "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
		req.Threshold = &v
	}
	h.match(w, r, req)
}

func (h *MatchHandler) match(w http.ResponseWriter, r *http.Request, req matchRequest) {
	if req.Section == "" {
		respondError(w, http.StatusBadRequest, "section is required")
		return
	}

	threshold := h.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	matcher, err := facematch.NewMatcher(threshold)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.ListEnrolled(r.Context(), scan.GroupFilter{Section: req.Section})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to load enrolled students")
		return
	}

	var exclude map[string]struct{}
	if len(req.Exclude) > 0 {
		exclude = make(map[string]struct{}, len(req.Exclude))
		for _, id := range req.Exclude {
			exclude[id] = struct{}{}
		}
	}

	result, stats := matcher.Match(req.Descriptor, facematch.FilterByGroup(entries, req.Section), exclude)
	resp := MatchResponse{
		Matched:   result.Matched,
		Section:   req.Section,
		Distance:  scan.FiniteDistance(result.Distance),
		Threshold: matcher.Threshold(),
		Compared:  stats.Compared,
		Malformed: stats.Malformed,
		Excluded:  stats.Excluded,
	}
	if result.Matched {
		resp.IdentityID = result.IdentityID
		resp.DisplayName = result.DisplayName
	}
	respondJSON(w, http.StatusOK, resp)
}

// readPhotoForm parses a multipart upload and returns the "file" part and the
// remaining form fields.
func readPhotoForm(w http.ResponseWriter, r *http.Request) ([]byte, formFields, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxFrameUploadSize+maxJSONBodySize)
	if err := r.ParseMultipartForm(constants.MaxFrameUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, nil, false
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file")
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return nil, nil, false
	}
	return data, formFields(r.MultipartForm.Value), true
}

type formFields map[string][]string

func (f formFields) Get(key string) string {
	if v := f[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func respondDescribeError(w http.ResponseWriter, err error) {
	if errors.Is(err, embedding.ErrNoFaces) {
		respondError(w, http.StatusUnprocessableEntity, "no face found in photo")
		return
	}
	respondError(w, http.StatusBadGateway, "embedding service failed")
}
