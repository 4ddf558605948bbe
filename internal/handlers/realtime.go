package handlers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/logger"
	"github.com/parleyhq/parley/pkg/response"
)

// presenceWriteTimeout bounds the presence writes triggered by socket
// lifecycle callbacks, which run outside any request context.
const presenceWriteTimeout = 5 * time.Second

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket
// streams and dispatches the chat events arriving on them.
type RealtimeHandler struct {
	hub      *realtime.Hub
	jwt      *iauth.JWTService
	messages *services.MessageService
	typing   *services.TypingTracker
	calls    *services.CallService
	presence *services.PresenceService
	log      *zap.Logger
}

// NewRealtimeHandler constructs a realtime handler and wires it into the hub
// as both event dispatcher and session listener.
func NewRealtimeHandler(
	hub *realtime.Hub,
	jwt *iauth.JWTService,
	messages *services.MessageService,
	typing *services.TypingTracker,
	calls *services.CallService,
	presence *services.PresenceService,
) *RealtimeHandler {
	h := &RealtimeHandler{
		hub:      hub,
		jwt:      jwt,
		messages: messages,
		typing:   typing,
		calls:    calls,
		presence: presence,
		log:      logger.WithModule("realtime"),
	}
	if hub != nil {
		hub.SetDispatcher(h)
		hub.SetListener(h)
	}
	return h
}

// Stream validates the caller's token and hands the connection to the hub.
// The token travels in the query string because browser WebSocket clients
// cannot set custom headers; the Authorization header works for everyone else.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.jwt == nil || h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		authz := c.GetHeader("Authorization")
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[7:])
		}
	}

	if token == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	h.hub.Serve(userID, c.Writer, c.Request)
}

// SessionStarted flips the user online when their first socket connects.
func (h *RealtimeHandler) SessionStarted(userID, connectionID string) {
	if h.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()

	if err := h.presence.MarkOnline(ctx, userID); err != nil {
		h.log.Warn("presence online failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// SessionEnded flips the user offline when the socket closes.
func (h *RealtimeHandler) SessionEnded(userID, connectionID string) {
	if h.presence == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()

	if err := h.presence.MarkOffline(ctx, userID); err != nil {
		h.log.Warn("presence offline failed", zap.String("user_id", userID), zap.Error(err))
	}
}

type messagePayload struct {
	ChatID      string `json:"chatId"`
	MessageData struct {
		Text     string `json:"text"`
		MediaURL string `json:"mediaUrl"`
		GifURL   string `json:"gifUrl"`
		ReplyTo  string `json:"replyTo"`
	} `json:"messageData"`
}

type editPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	NewText   string `json:"newText"`
}

type deletePayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type reactPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type typingPayload struct {
	ChatID string `json:"chatId"`
}

type receiptPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type callInitiatePayload struct {
	ChatID        string `json:"chatId"`
	RecipientID   string `json:"recipientId"`
	CallType      string `json:"callType"`
	InitiatorName string `json:"initiatorName"`
	RecipientName string `json:"recipientName"`
}

type callAnswerPayload struct {
	CallID string `json:"callId"`
}

type callEndPayload struct {
	CallID    string                  `json:"callId"`
	Recording *services.RecordingMeta `json:"recording,omitempty"`
}

// HandleEvent routes one client event to the owning service. The hub already
// resolved the session identity; payload user ids are never trusted.
func (h *RealtimeHandler) HandleEvent(ctx context.Context, sess realtime.Session, event string, data json.RawMessage) error {
	switch event {
	case realtime.EventSendMessage:
		var p messagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid send-message payload")
		}
		_, err := h.messages.Send(ctx, services.SendMessageParams{
			ChatID:   p.ChatID,
			SenderID: sess.UserID,
			Text:     p.MessageData.Text,
			MediaURL: p.MessageData.MediaURL,
			GifURL:   p.MessageData.GifURL,
			ReplyTo:  p.MessageData.ReplyTo,
		})
		return err

	case realtime.EventEditMessage:
		var p editPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid edit-message payload")
		}
		_, err := h.messages.Edit(ctx, p.ChatID, p.MessageID, sess.UserID, p.NewText)
		return err

	case realtime.EventDeleteMessage:
		var p deletePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid delete-message payload")
		}
		return h.messages.Delete(ctx, p.ChatID, p.MessageID, sess.UserID)

	case realtime.EventReactMessage:
		var p reactPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid react-to-message payload")
		}
		_, err := h.messages.React(ctx, p.ChatID, p.MessageID, sess.UserID, p.Emoji)
		return err

	case realtime.EventTypingStart:
		var p typingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid typing-start payload")
		}
		h.typing.Start(p.ChatID, sess.UserID)
		return nil

	case realtime.EventTypingStop:
		var p typingPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid typing-stop payload")
		}
		h.typing.Stop(p.ChatID, sess.UserID)
		return nil

	case realtime.EventMarkDelivered:
		var p receiptPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid message-delivered payload")
		}
		return h.messages.MarkDelivered(ctx, p.ChatID, p.MessageID, sess.UserID)

	case realtime.EventMarkRead:
		var p receiptPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid message-read payload")
		}
		return h.messages.MarkRead(ctx, p.ChatID, p.MessageID, sess.UserID)

	case realtime.EventCallInitiated:
		var p callInitiatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid callInitiated payload")
		}
		_, err := h.calls.Initiate(ctx, services.InitiateCallParams{
			ChatID:        p.ChatID,
			InitiatorID:   sess.UserID,
			RecipientID:   p.RecipientID,
			CallType:      p.CallType,
			InitiatorName: p.InitiatorName,
			RecipientName: p.RecipientName,
		})
		return err

	case realtime.EventCallAnswered:
		var p callAnswerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid callAnswered payload")
		}
		_, err := h.calls.Answer(ctx, p.CallID, sess.UserID)
		return err

	case realtime.EventCallEnded:
		var p callEndPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errors.NewBadRequest("invalid callEnded payload")
		}
		_, err := h.calls.End(ctx, p.CallID, sess.UserID, p.Recording)
		return err

	default:
		return errors.NewBadRequest("unsupported event: " + event)
	}
}
