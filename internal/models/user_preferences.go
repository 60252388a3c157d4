package models

import "time"

// UserPreferences holds per-user display and notification defaults, created
// alongside the account during sign-up.
type UserPreferences struct {
	UserID string `gorm:"primaryKey;size:8" json:"user_id"`

	Locale             string `gorm:"default:en" json:"locale"`
	Theme              string `gorm:"default:system" json:"theme"`
	EmailNotifications bool   `gorm:"default:true" json:"email_notifications"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
