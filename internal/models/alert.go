package models

import (
	"time"

	"gorm.io/datatypes"
)

// AlertStatus enumerates the lifecycle states of an alert.
type AlertStatus string

const (
	StatusCreated    AlertStatus = "created"
	StatusDispatched AlertStatus = "dispatched"
	StatusClaimed    AlertStatus = "claimed"
	StatusEnRoute    AlertStatus = "en_route"
	StatusArrived    AlertStatus = "arrived"
	StatusResolved   AlertStatus = "resolved"
	StatusEscalated  AlertStatus = "escalated"
	StatusCancelled  AlertStatus = "cancelled"
	StatusRejected   AlertStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s AlertStatus) Terminal() bool {
	switch s {
	case StatusResolved, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Valid reports whether the value is a known status.
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusDispatched, StatusClaimed, StatusEnRoute,
		StatusArrived, StatusResolved, StatusEscalated, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// AlertUrgency ranks how quickly an alert must be handled.
type AlertUrgency string

const (
	UrgencyHigh   AlertUrgency = "high"
	UrgencyMedium AlertUrgency = "medium"
	UrgencyLow    AlertUrgency = "low"
)

// Valid reports whether the value is a known urgency tier.
func (u AlertUrgency) Valid() bool {
	switch u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// AlertCategory enumerates the supported emergency types.
type AlertCategory string

const (
	CategoryMedical    AlertCategory = "medical"
	CategoryFire       AlertCategory = "fire"
	CategoryAccident   AlertCategory = "accident"
	CategoryHarassment AlertCategory = "harassment"
	CategoryTheft      AlertCategory = "theft"
	CategoryOther      AlertCategory = "other"
)

// Valid reports whether the value is a known category.
func (c AlertCategory) Valid() bool {
	switch c {
	case CategoryMedical, CategoryFire, CategoryAccident,
		CategoryHarassment, CategoryTheft, CategoryOther:
		return true
	}
	return false
}

// Alert is a single emergency request and its full lifecycle state.
//
// Version increases by exactly one on every committed mutation; every write
// must carry the version it read (optimistic concurrency). Terminal alerts
// are retained, never deleted.
type Alert struct {
	BaseModel

	RequesterID string        `gorm:"type:uuid;not null;index" json:"requester_id"`
	Category    AlertCategory `gorm:"not null" json:"category"`
	Urgency     AlertUrgency  `gorm:"not null;index" json:"urgency"`
	Description string        `json:"description"`

	Lat       float64 `gorm:"not null;index" json:"lat"`
	Lng       float64 `gorm:"not null;index" json:"lng"`
	RegionTag string  `gorm:"index" json:"region_tag"`

	Visibility string      `gorm:"not null;default:public" json:"visibility"`
	Status     AlertStatus `gorm:"not null;index" json:"status"`

	ClaimedBy *string    `gorm:"type:uuid;index" json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	CancelWindowExpiresAt time.Time  `gorm:"not null" json:"cancel_window_expires_at"`
	StatusChangedAt       time.Time  `gorm:"not null;index" json:"status_changed_at"`
	EscalatedAt           *time.Time `json:"escalated_at,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`

	MediaRefs datatypes.JSON `json:"media_refs,omitempty"`

	Version int64 `gorm:"not null;default:1" json:"version"`
}

// Visibility values for alerts.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)
