package models

import (
	"time"
)

// UserIDLength is the fixed length of the short random user identifier.
const UserIDLength = 8

// User describes a registered account. The identifier is a short random
// lowercase-alphanumeric string assigned by the account service, never a
// database sequence.
type User struct {
	ID             string `gorm:"primaryKey;size:8" json:"id"`
	Email          string `gorm:"uniqueIndex;not null" json:"email"`
	HashedPassword string `gorm:"not null" json:"-"`

	IsEmailVerified bool `gorm:"default:false" json:"is_email_verified"`

	TwoFactor   *TwoFactorSecret `gorm:"foreignKey:UserID" json:"-"`
	Privacy     *UserPrivacy     `gorm:"foreignKey:UserID" json:"privacy,omitempty"`
	Preferences *UserPreferences `gorm:"foreignKey:UserID" json:"preferences,omitempty"`
	Sessions    []UserSession    `gorm:"foreignKey:UserID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TwoFactorEnabled reports whether an activated two-factor secret is attached.
func (u *User) TwoFactorEnabled() bool {
	return u != nil && u.TwoFactor != nil && u.TwoFactor.Activated
}
