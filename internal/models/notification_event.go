package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventKind enumerates lifecycle event types delivered to subscribers.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventClaimed       EventKind = "claimed"
	EventStatusChanged EventKind = "status_changed"
	EventCancelled     EventKind = "cancelled"
	EventEscalated     EventKind = "escalated"
)

// NotificationEvent is a persisted lifecycle event. Delivery is at-least-once;
// receivers dedupe on ID and order on AlertVersionAtEmission. Rows double as
// the replay source for reconnecting subscribers.
type NotificationEvent struct {
	ID                     string         `gorm:"primaryKey;type:uuid" json:"id"`
	AlertID                string         `gorm:"type:uuid;not null;index:idx_event_alert_version" json:"alert_id"`
	TargetID               string         `gorm:"index" json:"target_id,omitempty"`
	Kind                   EventKind      `gorm:"not null" json:"kind"`
	Payload                datatypes.JSON `json:"payload,omitempty"`
	AlertVersionAtEmission int64          `gorm:"not null;index:idx_event_alert_version" json:"alert_version_at_emission"`
	CreatedAt              time.Time      `gorm:"index" json:"created_at"`
}

func (e *NotificationEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
