package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/database"
	"github.com/kozaktomas/attendance-scanner/internal/facematch"
	"github.com/kozaktomas/attendance-scanner/internal/logger"
)

// EnrollmentsHandler handles enrollment endpoints
type EnrollmentsHandler struct {
	reader             database.EnrollmentReader
	writer             database.EnrollmentWriter // nil when enrollments are read-only
	describer          Describer
	collisionThreshold float64
	log                *logger.Logger

	indexMu sync.Mutex
	index   *database.EnrollmentIndex // built on first write
}

// NewEnrollmentsHandler creates a new enrollments handler. writer and describer may be nil.
func NewEnrollmentsHandler(reader database.EnrollmentReader, writer database.EnrollmentWriter, describer Describer, collisionThreshold float64, log *logger.Logger) *EnrollmentsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &EnrollmentsHandler{
		reader:             reader,
		writer:             writer,
		describer:          describer,
		collisionThreshold: collisionThreshold,
		log:                log,
	}
}

// EnrollmentView is an enrollment without its descriptor.
type EnrollmentView struct {
	ID          int64     `json:"id"`
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	Section     string    `json:"section"`
	Valid       bool      `json:"valid"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewOf(e *database.Enrollment) EnrollmentView {
	return EnrollmentView{
		ID:          e.ID,
		IdentityID:  e.IdentityID,
		DisplayName: e.DisplayName,
		Section:     e.Section,
		Valid:       facematch.Descriptor(e.Descriptor).Valid(),
		CreatedAt:   e.CreatedAt,
	}
}

// Collision describes an enrolled sample of another student that is closer than the
// collision threshold.
type Collision struct {
	IdentityID  string  `json:"identity_id"`
	DisplayName string  `json:"display_name"`
	Section     string  `json:"section"`
	Distance    float64 `json:"distance"`
}

type createEnrollmentRequest struct {
	IdentityID  string               `json:"identity_id"`
	DisplayName string               `json:"display_name"`
	Section     string               `json:"section"`
	Descriptor  facematch.Descriptor `json:"descriptor"`
}

type createEnrollmentResponse struct {
	Enrollment EnrollmentView `json:"enrollment"`
	Collision  *Collision     `json:"collision"`
}

// Create enrolls one descriptor sample
func (h *EnrollmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		respondError(w, http.StatusServiceUnavailable, "enrollments are read-only")
		return
	}

	var req createEnrollmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	h.create(w, r, req)
}

// CreateFromPhoto enrolls the most confident face of an uploaded photo. The multipart
// form carries "identity_id", "display_name", "section" and the image as "file".
func (h *EnrollmentsHandler) CreateFromPhoto(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		respondError(w, http.StatusServiceUnavailable, "enrollments are read-only")
		return
	}
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
		h.log.Warn("failed to describe enrollment photo", "error", err)
		respondDescribeError(w, err)
		return
	}

	h.create(w, r, createEnrollmentRequest{
		IdentityID:  fields.Get("identity_id"),
		DisplayName: fields.Get("display_name"),
		Section:     fields.Get("section"),
		Descriptor:  descriptor,
	})
}

func (h *EnrollmentsHandler) create(w http.ResponseWriter, r *http.Request, req createEnrollmentRequest) {
	if req.IdentityID == "" || req.Section == "" {
		respondError(w, http.StatusBadRequest, "identity_id and section are required")
		return
	}
	if !req.Descriptor.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("descriptor must have %d elements", facematch.DescriptorDim))
		return
	}

	index, err := h.ensureIndex(r.Context())
	if err != nil {
		h.log.Error("failed to build enrollment index", "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to load enrollments")
		return
	}

	var collision *Collision
	if n, found := index.FindCollision(req.Descriptor, req.IdentityID, h.collisionThreshold, constants.DefaultCollisionNeighbors); found {
		collision = &Collision{
			IdentityID:  n.Enrollment.IdentityID,
			DisplayName: n.Enrollment.DisplayName,
			Section:     n.Enrollment.Section,
			Distance:    n.Distance,
		}
		h.log.Warn("enrollment looks like another student",
			"identity", sanitizeForLog(req.IdentityID), "other", n.Enrollment.IdentityID, "distance", n.Distance)
	}

	e := &database.Enrollment{
		IdentityID:  req.IdentityID,
		DisplayName: req.DisplayName,
		Section:     req.Section,
		Descriptor:  req.Descriptor,
	}
	if err := h.writer.Save(r.Context(), e); err != nil {
		h.log.Error("failed to save enrollment", "identity", sanitizeForLog(req.IdentityID), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save enrollment")
		return
	}
	if err := index.Add(*e); err != nil {
		h.log.Warn("failed to index enrollment", "id", e.ID, "error", err)
	}

	respondJSON(w, http.StatusCreated, createEnrollmentResponse{Enrollment: viewOf(e), Collision: collision})
}

// ensureIndex builds the collision index from all enrollments once.
func (h *EnrollmentsHandler) ensureIndex(ctx context.Context) (*database.EnrollmentIndex, error) {
	h.indexMu.Lock()
	defer h.indexMu.Unlock()

	if h.index != nil {
		return h.index, nil
	}
	all, err := h.reader.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	index := database.NewEnrollmentIndex()
	n := index.Build(all)
	h.log.Info("built enrollment index", "indexed", n, "total", len(all))
	h.index = index
	return index, nil
}

type sectionEnrollmentsResponse struct {
	Section     string           `json:"section"`
	Count       int              `json:"count"`
	Malformed   int              `json:"malformed"`
	Enrollments []EnrollmentView `json:"enrollments"`
}

// ListBySection lists the enrollments of a section, optionally filtered by ?q= name search
func (h *EnrollmentsHandler) ListBySection(w http.ResponseWriter, r *http.Request) {
	section := chi.URLParam(r, "section")
	if section == "" {
		respondError(w, http.StatusBadRequest, "missing section")
		return
	}

	enrollments, err := h.reader.ListBySection(r.Context(), section)
	if err != nil {
		h.log.Error("failed to list enrollments", "section", sanitizeForLog(section), "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to load enrollments")
		return
	}

	views := make([]EnrollmentView, 0, len(enrollments))
	resp := sectionEnrollmentsResponse{Section: section}
	for i := range enrollments {
		view := viewOf(&enrollments[i])
		if !view.Valid {
			resp.Malformed++
		}
		views = append(views, view)
	}
	resp.Enrollments = facematch.FilterByName(views, r.URL.Query().Get("q"), func(v EnrollmentView) string {
		return v.DisplayName
	})
	resp.Count = len(resp.Enrollments)

	respondJSON(w, http.StatusOK, resp)
}

// Sections summarizes enrollments per section
func (h *EnrollmentsHandler) Sections(w http.ResponseWriter, r *http.Request) {
	all, err := h.reader.ListAll(r.Context())
	if err != nil {
		h.log.Error("failed to list enrollments", "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to load enrollments")
		return
	}
	respondJSON(w, http.StatusOK, database.SummarizeSections(all))
}

// DeleteIdentity removes every sample of a student in a section
func (h *EnrollmentsHandler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		respondError(w, http.StatusServiceUnavailable, "enrollments are read-only")
		return
	}
	section := chi.URLParam(r, "section")
	identityID := chi.URLParam(r, "identityId")

	ids, err := h.writer.DeleteByIdentity(r.Context(), identityID, section)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "enrollment not found")
			return
		}
		h.log.Error("failed to delete enrollment", "identity", sanitizeForLog(identityID), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete enrollment")
		return
	}

	h.indexMu.Lock()
	if h.index != nil {
		h.index.Delete(ids...)
	}
	h.indexMu.Unlock()

	respondJSON(w, http.StatusOK, map[string]any{"deleted": len(ids)})
}
