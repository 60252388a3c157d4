package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/pkg/crypto"
	apperrors "github.com/nightfall-hq/gatehouse/pkg/errors"
	"github.com/nightfall-hq/gatehouse/pkg/metrics"
)

// Session lifetime bounds and the per-user cap. The requested expiration must
// fall inside [now+MinSessionTTL, now+MaxSessionTTL], inclusive at both ends.
const (
	MinSessionTTL          = time.Hour
	MaxSessionTTL          = 365 * 24 * time.Hour
	DefaultMaxSessions     = 5
	defaultTokenAttempts   = 10
	sessionCacheKeyPrefix  = "session:"
	defaultSessionCacheTTL = 5 * time.Minute
)

var (
	// ErrInvalidExpiration rejects session expirations outside the permitted window.
	ErrInvalidExpiration = apperrors.New("INVALID_EXPIRATION_DATE", "Session expiration must be between one hour and one year from now", http.StatusBadRequest)
	// ErrMaxSessions enforces the concurrent session cap per user.
	ErrMaxSessions = apperrors.New("MAX_SESSIONS_PER_USER", "Maximum number of concurrent sessions reached", http.StatusConflict)
	// ErrSessionRequired signals a mutation that needs an ambient session identifier.
	ErrSessionRequired = apperrors.New("SESSION_REQUIRED", "A session is required for this operation", http.StatusUnauthorized)
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	MaxPerUser int
	Clock      func() time.Time
	Cache      SessionCache
}

// SessionService manages issuance, lookup, and teardown of user sessions.
type SessionService struct {
	db         *gorm.DB
	maxPerUser int
	now        func() time.Time
	cache      SessionCache
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	maxPerUser := cfg.MaxPerUser
	if maxPerUser <= 0 {
		maxPerUser = DefaultMaxSessions
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		maxPerUser: maxPerUser,
		now:        clock,
		cache:      cfg.Cache,
	}, nil
}

// Issue creates a session for the user expiring at the requested time. It
// enforces the expiration window and the per-user cap, and generates the
// 128-character session identifier with a bounded collision retry; the unique
// primary key is the backstop for a concurrent winner.
func (s *SessionService) Issue(ctx context.Context, userID string, expiresAt time.Time) (*models.UserSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session service: user id is required")
	}

	now := s.now()
	if expiresAt.Before(now.Add(MinSessionTTL)) || expiresAt.After(now.Add(MaxSessionTTL)) {
		return nil, ErrInvalidExpiration
	}

	var active int64
	if err := s.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("user_id = ? AND expires_at > ?", userID, now).
		Count(&active).Error; err != nil {
		return nil, fmt.Errorf("session service: count active sessions: %w", err)
	}
	if active >= int64(s.maxPerUser) {
		return nil, ErrMaxSessions
	}

	var session *models.UserSession
	for attempt := 0; attempt < defaultTokenAttempts; attempt++ {
		token, err := crypto.RandomString(crypto.AlphabetSessionToken, models.SessionTokenLength)
		if err != nil {
			return nil, fmt.Errorf("session service: generate token: %w", err)
		}

		candidate := &models.UserSession{
			ID:         token,
			UserID:     userID,
			ExpiresAt:  expiresAt,
			LastUsedAt: now,
		}

		err = s.db.WithContext(ctx).Create(candidate).Error
		if err == nil {
			session = candidate
			break
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		return nil, fmt.Errorf("session service: create session: %w", err)
	}
	if session == nil {
		return nil, errors.New("session service: exhausted token generation attempts")
	}

	metrics.ActiveSessions.Inc()

	if s.cache != nil {
		_ = s.cache.Set(ctx, session, defaultSessionCacheTTL)
	}

	return session, nil
}

// GetByToken resolves a non-expired session by its identifier.
func (s *SessionService) GetByToken(ctx context.Context, token string) (*models.UserSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionRequired
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, token); err == nil && cached != nil {
			if !cached.Expired(s.now()) {
				return cached, nil
			}
		}
	}

	var session models.UserSession
	err := s.db.WithContext(ctx).Take(&session, "id = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if session.Expired(s.now()) {
		return nil, apperrors.ErrNotFound
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, &session, defaultSessionCacheTTL)
	}

	return &session, nil
}

// DeleteByToken removes the session identified by the supplied token. The
// token arrives as an explicit argument; resolving it from ambient request
// state is the transport layer's concern. A missing token is an error, a
// missing session is not: deletion is idempotent and reports false.
func (s *SessionService) DeleteByToken(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, ErrSessionRequired
	}

	result := s.db.WithContext(ctx).Delete(&models.UserSession{}, "id = ?", token)
	if result.Error != nil {
		return false, fmt.Errorf("session service: delete session: %w", result.Error)
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, token)
	}

	if result.RowsAffected == 0 {
		return false, nil
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return true, nil
}

// ListForUser returns the user's non-expired sessions, newest first.
func (s *SessionService) ListForUser(ctx context.Context, userID string) ([]models.UserSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session service: user id is required")
	}

	var sessions []models.UserSession
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, s.now()).
		Order("created_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}

	return sessions, nil
}

// Touch records recency of use for a resolved session.
func (s *SessionService) Touch(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrSessionRequired
	}

	return s.db.WithContext(ctx).
		Model(&models.UserSession{}).
		Where("id = ?", token).
		Update("last_used_at", s.now()).Error
}

// CleanupExpired removes expired sessions and adjusts the active gauge.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()

	var tokens []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).
			Model(&models.UserSession{}).
			Where("expires_at < ?", now).
			Pluck("id", &tokens).Error; err != nil {
			tokens = nil
		}
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.UserSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if s.cache != nil && len(tokens) > 0 {
		_ = s.cache.Delete(ctx, tokens...)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	return result.RowsAffected, nil
}
