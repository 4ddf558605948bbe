package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/response"
)

// CallHandler exposes call session history over REST. Live signaling rides
// the websocket.
type CallHandler struct {
	calls *services.CallService
	chats *services.ChatService
}

// NewCallHandler constructs a CallHandler.
func NewCallHandler(calls *services.CallService, chats *services.ChatService) *CallHandler {
	return &CallHandler{calls: calls, chats: chats}
}

// Get returns one call session. Only the two call parties may read it.
func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.calls.Get(requestContext(c), c.Param("callID"))
	if err != nil {
		response.Error(c, err)
		return
	}

	userID := currentUserID(c)
	if userID != call.InitiatorID && userID != call.RecipientID {
		response.Error(c, errors.ErrForbidden)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// ListForChat returns recent calls for a chat the caller participates in.
func (h *CallHandler) ListForChat(c *gin.Context) {
	chatID := c.Param("chatID")

	member, err := h.chats.IsParticipant(requestContext(c), chatID, currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !member {
		response.Error(c, errors.ErrNotParticipant)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	calls, err := h.calls.ListForChat(requestContext(c), chatID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, calls)
}
