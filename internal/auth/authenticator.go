package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/auth/mfa"
	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/pkg/crypto"
	apperrors "github.com/nightfall-hq/gatehouse/pkg/errors"
	"github.com/nightfall-hq/gatehouse/pkg/metrics"
)

var (
	// ErrUserNotFound indicates no account matches the supplied email.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "No account matches this email address", http.StatusNotFound)
	// ErrInvalidPassword indicates a password hash mismatch.
	ErrInvalidPassword = apperrors.New("INVALID_PASSWORD", "Incorrect password", http.StatusUnauthorized)
	// ErrTwoFactorRequired is returned when an enrolled user signs in without a code.
	ErrTwoFactorRequired = apperrors.New("2FA_REQUIRED", "A two-factor code is required", http.StatusUnauthorized)
	// ErrTwoFactorInvalid rejects codes that match neither the TOTP window nor a recovery code.
	ErrTwoFactorInvalid = apperrors.New("INVALID_2FA_CODE", "Invalid two-factor code", http.StatusUnauthorized)
)

// SignInInput carries the credentials and session parameters for a sign-in.
type SignInInput struct {
	Email         string
	Password      string
	ExpiresAt     time.Time
	TwoFactorCode string
}

// Authenticator verifies credentials and issues sessions.
type Authenticator struct {
	db        *gorm.DB
	sessions  *SessionService
	twoFactor *mfa.Service
	now       func() time.Time
}

// NewAuthenticator wires the credential check, two-factor verification, and
// session issuance into a single sign-in flow.
func NewAuthenticator(db *gorm.DB, sessions *SessionService, twoFactor *mfa.Service) (*Authenticator, error) {
	if db == nil {
		return nil, errors.New("authenticator: db is required")
	}
	if sessions == nil {
		return nil, errors.New("authenticator: session service is required")
	}
	if twoFactor == nil {
		return nil, errors.New("authenticator: two-factor service is required")
	}

	return &Authenticator{
		db:        db,
		sessions:  sessions,
		twoFactor: twoFactor,
		now:       time.Now,
	}, nil
}

// WithClock overrides the authenticator clock, primarily for testing.
func (a *Authenticator) WithClock(clock func() time.Time) *Authenticator {
	if clock != nil {
		a.now = clock
	}
	return a
}

// SignIn verifies the supplied credentials and returns a freshly issued
// session. Checks run in a fixed order: expiration bounds, account lookup,
// password, two-factor, session cap.
func (a *Authenticator) SignIn(ctx context.Context, input SignInInput) (*models.UserSession, error) {
	session, err := a.signIn(ctx, input)
	if err != nil {
		metrics.SignIns.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.SignIns.WithLabelValues("success").Inc()
	return session, nil
}

func (a *Authenticator) signIn(ctx context.Context, input SignInInput) (*models.UserSession, error) {
	now := a.now()
	if input.ExpiresAt.Before(now.Add(MinSessionTTL)) || input.ExpiresAt.After(now.Add(MaxSessionTTL)) {
		return nil, ErrInvalidExpiration
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := a.db.WithContext(ctx).
		Preload("TwoFactor").
		Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("authenticator: query user: %w", err)
	}

	if !crypto.VerifyPassword(user.HashedPassword, input.Password) {
		return nil, ErrInvalidPassword
	}

	if user.TwoFactorEnabled() {
		code := strings.TrimSpace(input.TwoFactorCode)
		if code == "" {
			return nil, ErrTwoFactorRequired
		}

		_, ok, err := a.twoFactor.Verify(user.ID, code)
		if err != nil {
			return nil, fmt.Errorf("authenticator: verify two-factor: %w", err)
		}
		if !ok {
			return nil, ErrTwoFactorInvalid
		}
	}

	return a.sessions.Issue(ctx, user.ID, input.ExpiresAt)
}
