package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
)

// AuditEntry captures a single committed transition to persist.
type AuditEntry struct {
	AlertID  string
	Sequence int64
	ActorID  string
	From     models.AlertStatus
	To       models.AlertStatus
	Metadata map[string]any
}

// AuditTrail persists and retrieves the append-only transition history of
// alerts. Records are never updated or deleted; the unique (alert, sequence)
// index rejects duplicate appends for the same committed version.
type AuditTrail struct {
	db *gorm.DB
}

// NewAuditTrail constructs an AuditTrail using the provided database handle.
func NewAuditTrail(db *gorm.DB) (*AuditTrail, error) {
	if db == nil {
		return nil, errors.New("audit trail: db is required")
	}
	return &AuditTrail{db: db}, nil
}

// Record appends one transition entry, marshalling metadata into JSON form.
func (s *AuditTrail) Record(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.AlertID) == "" {
		return errors.New("audit trail: alert id is required")
	}
	if entry.Sequence <= 0 {
		return errors.New("audit trail: sequence must be positive")
	}
	if !entry.To.Valid() {
		return errors.New("audit trail: target status is required")
	}

	payload := ""
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit trail: marshal metadata: %w", err)
		}
		payload = string(encoded)
	}

	record := models.AuditRecord{
		AlertID:    strings.TrimSpace(entry.AlertID),
		Sequence:   entry.Sequence,
		ActorID:    strings.TrimSpace(entry.ActorID),
		FromStatus: entry.From,
		ToStatus:   entry.To,
		Metadata:   payload,
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// List returns the full trail for an alert ordered by sequence ascending.
func (s *AuditTrail) List(ctx context.Context, alertID string) ([]models.AuditRecord, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(alertID) == "" {
		return nil, errors.New("audit trail: alert id is required")
	}

	var records []models.AuditRecord
	err := s.db.WithContext(ctx).
		Where("alert_id = ?", alertID).
		Order("sequence ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("audit trail: list records: %w", err)
	}
	return records, nil
}
