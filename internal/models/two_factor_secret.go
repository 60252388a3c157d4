package models

import (
	"time"

	"gorm.io/datatypes"
)

// TwoFactorSecret is the optional one-to-one two-factor attachment for a user.
// Secret holds the AES-GCM encrypted base32 TOTP secret. RecoveryCodes is a
// JSON array of bcrypt-hashed single-use codes; entries are removed as they
// are consumed.
type TwoFactorSecret struct {
	ID     uint   `gorm:"primaryKey" json:"-"`
	UserID string `gorm:"size:8;uniqueIndex;not null" json:"user_id"`

	Secret        string         `gorm:"not null" json:"-"`
	RecoveryCodes datatypes.JSON `json:"-"`

	// Activated flips once the user has proven possession of the secret by
	// submitting a valid code. Only activated secrets are enforced at sign-in.
	Activated  bool       `gorm:"default:false" json:"activated"`
	LastUsedAt *time.Time `json:"last_used_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
