package services

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// SystemActorID identifies transitions committed by the platform itself,
// such as window-expiry dispatch and SLA escalation sweeps.
const SystemActorID = "system"

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// RegionTag buckets a coordinate into a 0.1 degree grid cell. Cells back the
// region-scoped realtime topics responders subscribe to.
func RegionTag(lat, lng float64) string {
	return fmt.Sprintf("r%.1f_%.1f", math.Floor(lat*10)/10, math.Floor(lng*10)/10)
}

func normaliseRefs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
