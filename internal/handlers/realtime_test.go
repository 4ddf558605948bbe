package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/services"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

func newRealtimeFixture(t *testing.T) (*RealtimeHandler, *services.MessageService, *models.Chat) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	chats, err := services.NewChatService(db)
	require.NoError(t, err)

	typing := services.NewTypingTracker(nil)

	messages, err := services.NewMessageService(db, chats, nil, typing)
	require.NoError(t, err)

	calls, err := services.NewCallService(db, chats, nil)
	require.NoError(t, err)

	presence, err := services.NewPresenceService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	handler := NewRealtimeHandler(realtime.NewHub(), jwtSvc, messages, typing, calls, presence)

	chat, err := chats.EnsureDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	return handler, messages, chat
}

func TestRealtimeStreamUnauthorizedWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler, _, _ := newRealtimeFixture(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)

	handler.Stream(c)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRealtimeStreamRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler, _, _ := newRealtimeFixture(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?token=not-a-jwt", nil)

	handler.Stream(c)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEventSendMessage(t *testing.T) {
	handler, messages, chat := newRealtimeFixture(t)

	payload, err := json.Marshal(map[string]any{
		"chatId": chat.ID,
		"messageData": map[string]any{
			"text": "hello there",
		},
	})
	require.NoError(t, err)

	sess := realtime.Session{ConnectionID: "conn-1", UserID: "alice"}
	require.NoError(t, handler.HandleEvent(context.Background(), sess, realtime.EventSendMessage, payload))

	page, err := messages.History(context.Background(), chat.ID, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "alice", page[0].SenderID)
	require.Equal(t, "hello there", page[0].Text)
}

func TestHandleEventUsesSessionIdentityNotPayload(t *testing.T) {
	handler, messages, chat := newRealtimeFixture(t)

	msg, err := messages.Send(context.Background(), services.SendMessageParams{
		ChatID:   chat.ID,
		SenderID: "alice",
		Text:     "mine",
	})
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"chatId":    chat.ID,
		"messageId": msg.ID,
		"newText":   "hijacked",
	})
	require.NoError(t, err)

	// Bob's connection cannot edit Alice's message no matter what the payload says.
	sess := realtime.Session{ConnectionID: "conn-2", UserID: "bob"}
	err = handler.HandleEvent(context.Background(), sess, realtime.EventEditMessage, payload)
	require.ErrorIs(t, err, apperrors.ErrNotMessageOwner)
}

func TestHandleEventRejectsUnknownEvent(t *testing.T) {
	handler, _, _ := newRealtimeFixture(t)

	sess := realtime.Session{ConnectionID: "conn-1", UserID: "alice"}
	err := handler.HandleEvent(context.Background(), sess, "no-such-event", json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestHandleEventRejectsMalformedPayload(t *testing.T) {
	handler, _, _ := newRealtimeFixture(t)

	sess := realtime.Session{ConnectionID: "conn-1", UserID: "alice"}
	err := handler.HandleEvent(context.Background(), sess, realtime.EventSendMessage, json.RawMessage(`"not an object"`))
	require.Error(t, err)
}

func TestHandleEventCallLifecycle(t *testing.T) {
	handler, _, chat := newRealtimeFixture(t)

	initiate, err := json.Marshal(map[string]any{"chatId": chat.ID})
	require.NoError(t, err)

	alice := realtime.Session{ConnectionID: "conn-1", UserID: "alice"}
	require.NoError(t, handler.HandleEvent(context.Background(), alice, realtime.EventCallInitiated, initiate))

	calls, err := handler.calls.ListForChat(context.Background(), chat.ID, 10)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, models.CallStatusRinging, calls[0].Status)

	answer, err := json.Marshal(map[string]any{"callId": calls[0].ID})
	require.NoError(t, err)

	bob := realtime.Session{ConnectionID: "conn-2", UserID: "bob"}
	require.NoError(t, handler.HandleEvent(context.Background(), bob, realtime.EventCallAnswered, answer))

	end, err := json.Marshal(map[string]any{"callId": calls[0].ID})
	require.NoError(t, err)
	require.NoError(t, handler.HandleEvent(context.Background(), bob, realtime.EventCallEnded, end))

	settled, err := handler.calls.Get(context.Background(), calls[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.CallStatusCompleted, settled.Status)
}

func TestSessionLifecycleTracksPresence(t *testing.T) {
	handler, _, _ := newRealtimeFixture(t)

	handler.SessionStarted("alice", "conn-1")

	record, err := handler.presence.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, record.IsOnline)

	handler.SessionEnded("alice", "conn-1")

	record, err = handler.presence.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.False(t, record.IsOnline)
}
