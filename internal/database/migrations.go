package database

import (
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Chat{},
		&models.Message{},
		&models.Presence{},
		&models.CallSession{},
		&models.CacheEntry{},
	)
}
