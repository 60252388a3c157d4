package models

import (
	"time"
)

// SessionTokenLength is the fixed length of the long random session identifier.
const SessionTokenLength = 128

// UserSession is an issued authentication session. The primary key doubles as
// the bearer credential: a long random mixed-case string generated by the
// session service and checked for global uniqueness.
type UserSession struct {
	ID     string `gorm:"primaryKey;size:128" json:"id"`
	UserID string `gorm:"size:8;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the session has passed its expiration timestamp.
func (s *UserSession) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.After(now)
}
