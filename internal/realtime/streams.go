package realtime

import "strings"

// Named realtime streams used across the platform.
const (
	// StreamAdmins receives every lifecycle event.
	StreamAdmins = "admins"
)

// AlertStream names the stream carrying one alert's lifecycle events.
func AlertStream(alertID string) string {
	return "alert:" + strings.ToLower(strings.TrimSpace(alertID))
}

// RegionStream names the role-based topic for responders in a region.
func RegionStream(regionTag string) string {
	return "region:" + strings.ToLower(strings.TrimSpace(regionTag))
}

// UserStream names a principal's personal stream. Targeted deliveries
// (requester updates, candidate responder pings) land here without the
// client having to know alert or region names upfront.
func UserStream(userID string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(userID))
}
