package realtime

import (
	"encoding/json"
	"errors"

	"github.com/beaconhq/beacon/internal/models"
)

// EventPublisher bridges persisted notification events onto the hub's
// streams: the alert's own stream, the region topic and the admin firehose.
type EventPublisher struct {
	hub *Hub
}

// NewEventPublisher constructs an EventPublisher over the hub.
func NewEventPublisher(hub *Hub) *EventPublisher {
	return &EventPublisher{hub: hub}
}

// Publish broadcasts one lifecycle event to its alert and region streams,
// the admin firehose, and the personal stream of each target principal.
func (p *EventPublisher) Publish(event *models.NotificationEvent, regionTag string, targets []string) error {
	if p == nil || p.hub == nil {
		return errors.New("realtime: publisher not initialised")
	}
	if event == nil {
		return errors.New("realtime: event is required")
	}

	message := Message{
		Event:   string(event.Kind),
		AlertID: event.AlertID,
		Version: event.AlertVersionAtEmission,
		Data:    json.RawMessage(event.Payload),
	}

	p.hub.BroadcastStream(AlertStream(event.AlertID), message)
	if regionTag != "" {
		p.hub.BroadcastStream(RegionStream(regionTag), message)
	}
	p.hub.BroadcastStream(StreamAdmins, message)
	for _, target := range targets {
		if target == "" {
			continue
		}
		p.hub.BroadcastStream(UserStream(target), message)
	}
	return nil
}
