package handlers

import (
	"net/http"
	"time"

	"github.com/greencredits/report-server/internal/notify"
)

const sseKeepAlive = 25 * time.Second

// EventHandler streams lifecycle and ledger events to dashboards.
type EventHandler struct {
	hub       *notify.Hub
	keepAlive time.Duration
}

// NewEventHandler creates a new event stream handler
func NewEventHandler(hub *notify.Hub) *EventHandler {
	return &EventHandler{hub: hub, keepAlive: sseKeepAlive}
}

// Stream handles GET /api/v1/events/stream
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeSSE(w, r, h.keepAlive)
}
