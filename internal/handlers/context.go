package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentUserID extracts the authenticated user id set by the auth middleware.
func currentUserID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(middleware.CtxUserIDKey)
}

// currentDisplayName extracts the authenticated display name, when present.
func currentDisplayName(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(middleware.CtxDisplayNameKey)
}
