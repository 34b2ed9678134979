package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beaconhq/beacon/internal/middleware"
	"github.com/beaconhq/beacon/internal/models"
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

// currentUserID returns the authenticated principal id, empty when absent.
func currentUserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(middleware.CtxUserIDKey))
}

// currentRole returns the authenticated role claim.
func currentRole(c *gin.Context) models.ResponderRole {
	return models.ResponderRole(strings.TrimSpace(c.GetString(middleware.CtxRoleKey)))
}
