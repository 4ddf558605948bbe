package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/response"
)

// ChatHandler exposes conversation setup and message history over REST.
// Live traffic rides the websocket; these endpoints serve initial page loads
// and reconnect catch-up.
type ChatHandler struct {
	chats    *services.ChatService
	messages *services.MessageService
	typing   *services.TypingTracker
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(chats *services.ChatService, messages *services.MessageService, typing *services.TypingTracker) *ChatHandler {
	return &ChatHandler{chats: chats, messages: messages, typing: typing}
}

type createDirectChatRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// CreateDirect opens (or returns) the direct chat between the caller and the
// named user.
func (h *ChatHandler) CreateDirect(c *gin.Context) {
	var req createDirectChatRequest
	if !bindAndValidate(c, &req) {
		return
	}

	chat, err := h.chats.EnsureDirectChat(requestContext(c), currentUserID(c), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, chat)
}

// Get returns a chat the caller participates in.
func (h *ChatHandler) Get(c *gin.Context) {
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

	chat, err := h.chats.Get(requestContext(c), chatID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, chat)
}

// History returns a chronological message page. Supports ?limit= and
// ?before=RFC3339 for walking backwards.
func (h *ChatHandler) History(c *gin.Context) {
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

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest("before must be an RFC3339 timestamp"))
			return
		}
		before = parsed
	}

	page, err := h.messages.History(requestContext(c), chatID, limit, before)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, page, &response.Meta{
		Limit:   limit,
		Count:   len(page),
		HasMore: limit > 0 && len(page) == limit,
	})
}

// Typing reports who is currently composing in the chat.
func (h *ChatHandler) Typing(c *gin.Context) {
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

	response.Success(c, http.StatusOK, gin.H{
		"chatId": chatID,
		"typing": h.typing.ActiveUsers(chatID),
	})
}
