package scan

import (
	"math"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-scanner/internal/constants"
)

// EventType names what happened during a tick or a lifecycle change.
type EventType string

// Event types sent to listeners.
const (
	EventStarted        EventType = "started"
	EventRecognized     EventType = "recognized"      // match accepted, record call dispatched
	EventRecorded       EventType = "recorded"        // recorder confirmed the attendance
	EventAlreadyScanned EventType = "already_scanned" // matched an identity already marked, or recorder reported a duplicate
	EventNotRecognized  EventType = "not_recognized"
	EventNoFace         EventType = "no_face"
	EventError          EventType = "error"
	EventStopped        EventType = "stopped"
)

// Event is one session notification. Distance is omitted when nothing was compared.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"session_id"`
	Section     string    `json:"section"`
	Subject     string    `json:"subject"`
	IdentityID  string    `json:"identity_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Distance    *float64  `json:"distance,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	Message     string    `json:"message,omitempty"`
	Time        time.Time `json:"time"`
}

// FiniteDistance returns nil for infinite distances, which JSON cannot encode.
func FiniteDistance(d float64) *float64 {
	if math.IsInf(d, 0) || math.IsNaN(d) {
		return nil
	}
	return &d
}

// EventBroadcaster fans events out to listeners without blocking the sender.
type EventBroadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes and closes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// CloseListeners closes and drops every listener.
func (b *EventBroadcaster) CloseListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
}

// ListenerCount returns the number of attached listeners.
func (b *EventBroadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
