package database

import (
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Alert{},
		&models.Responder{},
		&models.AuditRecord{},
		&models.NotificationEvent{},
		&models.CacheEntry{},
	)
}
