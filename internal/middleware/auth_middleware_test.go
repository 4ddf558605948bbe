package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/parleyhq/parley/internal/auth"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *iauth.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/protected", Auth(jwtSvc), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})
	return r, jwtSvc
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	r, _ := newAuthRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/protected", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsMalformedToken(t *testing.T) {
	r, _ := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer nonsense")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestAuthMiddlewarePropagatesIdentity(t *testing.T) {
	r, jwtSvc := newAuthRouter(t)

	token, err := jwtSvc.GenerateAccessToken(iauth.AccessTokenInput{UserID: "user-42"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-42", rec.Body.String())
}
