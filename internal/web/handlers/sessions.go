package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/attendance-scanner/internal/capture"
	"github.com/kozaktomas/attendance-scanner/internal/config"
	"github.com/kozaktomas/attendance-scanner/internal/constants"
	"github.com/kozaktomas/attendance-scanner/internal/logger"
	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// Frame source kinds accepted when creating a session.
const (
	SourcePush   = "push"
	SourceCamera = "camera"
)

// FrameSourceFactory builds the frame source of a new session.
type FrameSourceFactory func(kind string) (scan.FrameSource, error)

// NewFrameSourceFactory creates push sources, or snapshot sources reading the
// configured camera.
func NewFrameSourceFactory(cfg *config.Config) FrameSourceFactory {
	return func(kind string) (scan.FrameSource, error) {
		switch kind {
		case "", SourcePush:
			return capture.NewPushSource(cfg.Scan.MaxFrameSize), nil
		case SourceCamera:
			if cfg.Camera.SnapshotURL == "" {
				return nil, errors.New("no camera snapshot URL configured")
			}
			return capture.NewSnapshotSource(cfg.Camera.SnapshotURL, cfg.Scan.MaxFrameSize, capture.DefaultStillThreshold), nil
		default:
			return nil, fmt.Errorf("unknown frame source %q", kind)
		}
	}
}

// framePusher is implemented by sources that accept uploaded frames.
type framePusher interface {
	Push(data []byte) error
}

// SessionsHandler handles scan session endpoints
type SessionsHandler struct {
	manager *scan.Manager
	sources FrameSourceFactory
	log     *logger.Logger
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(manager *scan.Manager, sources FrameSourceFactory, log *logger.Logger) *SessionsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SessionsHandler{manager: manager, sources: sources, log: log}
}

type createSessionRequest struct {
	Section string `json:"section"`
	Subject string `json:"subject"`
	Source  string `json:"source"`
}

// Create starts a new scan session
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	filter := scan.GroupFilter{Section: req.Section, Subject: req.Subject}
	if !filter.Valid() {
		respondError(w, http.StatusBadRequest, "section and subject are required")
		return
	}

	frames, err := h.sources(req.Source)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.manager.Create(r.Context(), filter, frames)
	if err != nil {
		h.log.Error("failed to start session", "section", sanitizeForLog(req.Section), "subject", sanitizeForLog(req.Subject), "error", err)
		respondSessionError(w, err)
		return
	}

	h.log.Info("session started", "session", session.ID(), "section", filter.Section, "subject", filter.Subject)
	respondJSON(w, http.StatusCreated, session.Status())
}

// List returns the status of every session
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.List()
	out := make([]scan.Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns the status of one session
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session.Status())
}

// Stop stops a session. With ?remove=true the session is also forgotten.
func (h *SessionsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("remove") == "true" {
		if err := h.manager.Remove(session.ID()); err != nil {
			respondSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	session.Stop()
	h.log.Info("session stopped", "session", session.ID())
	respondJSON(w, http.StatusOK, session.Status())
}

// Restart starts a stopped session again with freshly loaded candidates
func (h *SessionsHandler) Restart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := session.Start(r.Context()); err != nil {
		respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session.Status())
}

// Reset clears the scan set so every student can be recorded again
func (h *SessionsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	session.ResetScanned()
	respondJSON(w, http.StatusOK, session.Status())
}

// PushFrame accepts one raw image for a push session
func (h *SessionsHandler) PushFrame(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	pusher, ok := session.Frames().(framePusher)
	if !ok {
		respondError(w, http.StatusConflict, "session does not accept pushed frames")
		return
	}
	if session.State() != scan.StateScanning {
		respondError(w, http.StatusConflict, "session is not scanning")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxFrameUploadSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "frame too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read frame")
		return
	}

	if err := pusher.Push(data); err != nil {
		respondError(w, http.StatusBadRequest, "invalid image: "+err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// Events streams the events of one session
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	streamSSEEvents(w, r, session, session.Status())
}

func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*scan.Session, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil, false
	}
	session := h.manager.Get(id)
	if session == nil {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return session, true
}

// respondSessionError maps scan errors to HTTP statuses.
func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrInvalidFilter):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scan.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, scan.ErrNotIdle):
		respondError(w, http.StatusConflict, "session is already scanning")
	default:
		respondError(w, http.StatusServiceUnavailable, "failed to load enrolled students")
	}
}
