package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/beaconhq/beacon/internal/auth"
	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/realtime"
	"github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/response"
)

// RealtimeHandler upgrades HTTP connections into authenticated WebSocket streams.
type RealtimeHandler struct {
	hub *realtime.Hub
	jwt *iauth.JWTService
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, jwt *iauth.JWTService) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, jwt: jwt}
}

// Stream validates the caller and upgrades the request to the realtime hub.
// Authentication happens via query parameter because browser WebSocket clients
// cannot set headers; an Authorization header is honoured as well.
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

	userID := strings.TrimSpace(claims.PrincipalID)
	if userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		response.Error(c, errors.NewBadRequest("at least one stream is required"))
		return
	}

	allowed := allowedStreamsFor(userID, claims.ResponderRole(), streams)
	for _, stream := range streams {
		if _, ok := allowed[stream]; !ok {
			response.Error(c, errors.ErrForbidden)
			return
		}
	}

	h.hub.Serve(userID, streams, allowed, c.Writer, c.Request)
}

// allowedStreamsFor builds the subscription whitelist for a connection. Alert
// and region streams are open to any authenticated principal; the personal
// stream only to its owner; the admin firehose requires the admin role.
func allowedStreamsFor(userID string, role models.ResponderRole, requested []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(requested))
	for _, stream := range requested {
		switch {
		case strings.HasPrefix(stream, "alert:"), strings.HasPrefix(stream, "region:"):
			allowed[stream] = struct{}{}
		case stream == realtime.UserStream(userID):
			allowed[stream] = struct{}{}
		case stream == realtime.StreamAdmins && role == models.RoleAdmin:
			allowed[stream] = struct{}{}
		}
	}
	return allowed
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	if pathStream := normalizeStream(c.Param("stream")); pathStream != "" {
		streams = append(streams, pathStream)
	}

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	raw := c.Query("streams")
	if raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
