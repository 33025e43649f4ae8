package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// EventSource is anything that broadcasts scan events to listeners.
type EventSource interface {
	AddListener() chan scan.Event
	RemoveListener(ch chan scan.Event)
}

// setupSSEConnection sets the SSE headers. On failure it writes an error response
// and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return flusher, true
}

// sendSSEEvent writes one SSE event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// streamSSEEvents sends an initial "status" event and then every event of source
// until the client disconnects or the source closes the listener.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, source EventSource, initial any) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	eventCh := source.AddListener()
	defer source.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", initial)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, string(event.Type), event)
		}
	}
}

// FeedHandler streams attendance recorded by any session
type FeedHandler struct {
	source EventSource
}

// NewFeedHandler creates a new feed handler
func NewFeedHandler(source EventSource) *FeedHandler {
	return &FeedHandler{source: source}
}

// Events handles GET /events
func (h *FeedHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, h.source, map[string]bool{"connected": true})
}
