package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/careteam/internal/middleware"
	"github.com/charlesng35/careteam/internal/models"
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

// currentPrincipal returns the authenticated principal stored by the auth middleware.
// The zero Principal is returned for anonymous requests and fails every capability check.
func currentPrincipal(c *gin.Context) models.Principal {
	if value, ok := c.Get(middleware.CtxPrincipalKey); ok {
		if principal, ok := value.(models.Principal); ok {
			return principal
		}
	}
	return models.Principal{}
}
