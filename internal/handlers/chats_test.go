package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/middleware"
	"github.com/parleyhq/parley/internal/services"
)

type restFixture struct {
	router   *gin.Engine
	jwt      *iauth.JWTService
	chats    *services.ChatService
	messages *services.MessageService
}

func newRESTFixture(t *testing.T) *restFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	chatHandler := NewChatHandler(chats, messages, typing)
	callHandler := NewCallHandler(calls, chats)
	presenceHandler := NewPresenceHandler(presence)

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.Auth(jwtSvc))
	api.POST("/chats/direct", chatHandler.CreateDirect)
	api.GET("/chats/:chatID", chatHandler.Get)
	api.GET("/chats/:chatID/messages", chatHandler.History)
	api.GET("/chats/:chatID/typing", chatHandler.Typing)
	api.GET("/chats/:chatID/calls", callHandler.ListForChat)
	api.GET("/calls/:callID", callHandler.Get)
	api.GET("/presence/:userID", presenceHandler.Get)
	api.POST("/presence/heartbeat", presenceHandler.Heartbeat)

	return &restFixture{router: r, jwt: jwtSvc, chats: chats, messages: messages}
}

func (f *restFixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := f.jwt.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateDirectChatEndpoint(t *testing.T) {
	f := newRESTFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats/direct", "alice", gin.H{"userId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.Equal(t, "alice_bob", envelope.Data.ID)
}

func TestEndpointsRequireAuth(t *testing.T) {
	f := newRESTFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats/direct", "", gin.H{"userId": "bob"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistoryEndpointEnforcesMembership(t *testing.T) {
	f := newRESTFixture(t)

	chat, err := f.chats.EnsureDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	_, err = f.messages.Send(context.Background(), services.SendMessageParams{
		ChatID:   chat.ID,
		SenderID: "alice",
		Text:     "hi bob",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", "mallory", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	require.Equal(t, "hi bob", envelope.Data[0].Text)
}

func TestHistoryEndpointRejectsBadBeforeParam(t *testing.T) {
	f := newRESTFixture(t)

	chat, err := f.chats.EnsureDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages?before=yesterday", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPresenceHeartbeatEndpoint(t *testing.T) {
	f := newRESTFixture(t)

	rec := f.do(t, http.MethodPost, "/api/presence/heartbeat", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/presence/alice", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data struct {
			IsOnline bool `json:"is_online"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Data.IsOnline)
}
