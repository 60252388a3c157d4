package database

import (
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/models"
)

// AutoMigrate creates or updates the database schema for all models. Unique
// indexes on users.email, users.id, and user_sessions.id are the backstop for
// the application-level collision retries.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserSession{},
		&models.TwoFactorSecret{},
		&models.UserPrivacy{},
		&models.UserPreferences{},
		&models.EmailVerification{},
		&models.CacheEntry{},
	)
}
