package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/app"
	iauth "github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/database/testutil"
	"github.com/parleyhq/parley/internal/realtime"
	"github.com/parleyhq/parley/internal/services"
)

func newTestRouter(t *testing.T) (*gin.Engine, *iauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	hub := realtime.NewHub()

	chats, err := services.NewChatService(db)
	require.NoError(t, err)

	presence, err := services.NewPresenceService(db)
	require.NoError(t, err)

	typing := services.NewTypingTracker(hub)

	messages, err := services.NewMessageService(db, chats, hub, typing)
	require.NoError(t, err)

	calls, err := services.NewCallService(db, chats, hub)
	require.NoError(t, err)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "test-secret"

	router, err := NewRouter(db, jwtSvc, cfg, Services{
		Hub:      hub,
		Chats:    chats,
		Messages: messages,
		Typing:   typing,
		Presence: presence,
		Calls:    calls,
	}, nil)
	require.NoError(t, err)

	return router, jwtSvc
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterProtectsAPIGroup(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence/alice", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterRequiresHub(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	_, err = NewRouter(db, jwtSvc, cfg, Services{}, nil)
	require.Error(t, err)
}
