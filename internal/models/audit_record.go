package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRecord is an append-only entry describing one committed alert
// transition. Sequence equals the alert's post-write version, so the trail
// for an alert is gapless and totally ordered.
type AuditRecord struct {
	ID         string      `gorm:"primaryKey;type:uuid" json:"id"`
	AlertID    string      `gorm:"type:uuid;not null;index:idx_audit_alert_seq,unique" json:"alert_id"`
	Sequence   int64       `gorm:"not null;index:idx_audit_alert_seq,unique" json:"sequence"`
	ActorID    string      `gorm:"type:uuid;not null" json:"actor_id"`
	FromStatus AlertStatus `gorm:"not null" json:"from_status"`
	ToStatus   AlertStatus `gorm:"not null" json:"to_status"`
	Metadata   string      `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt  time.Time   `gorm:"index" json:"created_at"`
}

func (a *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
