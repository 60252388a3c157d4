package models

import "time"

// UserPrivacy holds per-user privacy toggles. A row with defaults is created
// during sign-up, keyed by the user identifier.
type UserPrivacy struct {
	UserID string `gorm:"primaryKey;size:8" json:"user_id"`

	DiscoverableByEmail bool `gorm:"default:false" json:"discoverable_by_email"`
	ShowActivityStatus  bool `gorm:"default:true" json:"show_activity_status"`
	AllowSessionListing bool `gorm:"default:true" json:"allow_session_listing"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
