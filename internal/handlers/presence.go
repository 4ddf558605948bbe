package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/response"
)

// PresenceHandler exposes online state reads and heartbeats.
type PresenceHandler struct {
	presence *services.PresenceService
}

// NewPresenceHandler constructs a PresenceHandler.
func NewPresenceHandler(presence *services.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// Get returns the presence record for a user. Presence is not secret between
// chat peers; any authenticated caller may look it up.
func (h *PresenceHandler) Get(c *gin.Context) {
	record, err := h.presence.Get(requestContext(c), c.Param("userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, record)
}

// ListOnline returns every user currently marked online.
func (h *PresenceHandler) ListOnline(c *gin.Context) {
	records, err := h.presence.ListOnline(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, records)
}

// Heartbeat refreshes the caller's online state. Complements the socket
// lifecycle for clients on flaky connections.
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	if err := h.presence.Heartbeat(requestContext(c), currentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}
