package models

import (
	"time"

	"gorm.io/datatypes"
)

// ResponderRole enumerates the responder principal roles.
type ResponderRole string

const (
	RoleVolunteer ResponderRole = "volunteer"
	RoleEmployee  ResponderRole = "employee"
	RoleAdmin     ResponderRole = "admin"
)

// Valid reports whether the value is a known responder role.
func (r ResponderRole) Valid() bool {
	switch r {
	case RoleVolunteer, RoleEmployee, RoleAdmin:
		return true
	}
	return false
}

// Responder is the dispatch-relevant projection of a responder principal.
// Identity itself lives with the external identity provider; this row only
// carries duty state and the last sampled location.
type Responder struct {
	BaseModel

	Role    ResponderRole `gorm:"not null;index" json:"role"`
	OnDuty  bool          `gorm:"not null;index" json:"on_duty"`
	Lat     float64       `gorm:"index" json:"lat"`
	Lng     float64       `gorm:"index" json:"lng"`

	ServiceRadiusKm      float64        `gorm:"not null;default:10" json:"service_radius_km"`
	PreferredCategories  datatypes.JSON `json:"preferred_categories,omitempty"`
	LastLocationUpdateAt *time.Time     `gorm:"index" json:"last_location_update_at,omitempty"`
	OnDutySince          *time.Time     `json:"on_duty_since,omitempty"`
}
