package events

import (
	"context"

	"github.com/kozaktomas/attendance-scanner/internal/scan"
)

// Hub fans attendance events out to local listeners across all sessions. Used
// directly as a scan.Publisher when redis is not configured, or fed by the redis
// forwarder otherwise.
type Hub struct {
	scan.EventBroadcaster
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish implements scan.Publisher.
func (h *Hub) Publish(ctx context.Context, event scan.Event) error {
	h.SendEvent(event)
	return nil
}
