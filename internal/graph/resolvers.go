package graph

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/nightfall-hq/gatehouse/internal/auth"
	"github.com/nightfall-hq/gatehouse/internal/auth/mfa"
	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/internal/services"
	apperrors "github.com/nightfall-hq/gatehouse/pkg/errors"
	"github.com/nightfall-hq/gatehouse/pkg/logger"
)

// Resolver bundles the domain services behind the GraphQL schema.
type Resolver struct {
	accounts      *services.AccountService
	verifications *services.EmailVerificationService
	authenticator *auth.Authenticator
	sessions      *auth.SessionService
	twoFactor     *mfa.Service
	log           *zap.Logger
}

// NewResolver wires the resolver against the supplied services.
func NewResolver(
	accounts *services.AccountService,
	verifications *services.EmailVerificationService,
	authenticator *auth.Authenticator,
	sessions *auth.SessionService,
	twoFactor *mfa.Service,
) (*Resolver, error) {
	if accounts == nil || authenticator == nil || sessions == nil || twoFactor == nil {
		return nil, errors.New("graph: all services are required")
	}
	return &Resolver{
		accounts:      accounts,
		verifications: verifications,
		authenticator: authenticator,
		sessions:      sessions,
		twoFactor:     twoFactor,
		log:           logger.WithModule("graph"),
	}, nil
}

// sanitize keeps internal failure detail out of API responses while logging it.
func (r *Resolver) sanitize(op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Internal != nil {
			r.log.Error("resolver error", zap.String("op", op), zap.Error(appErr.Internal))
			cpy := *appErr
			cpy.Internal = nil
			return &cpy
		}
		return appErr
	}

	r.log.Error("resolver error", zap.String("op", op), zap.Error(err))
	return apperrors.ErrInternalServer
}

func (r *Resolver) signUp(ctx context.Context, email, password string) (*models.User, error) {
	user, err := r.accounts.SignUp(ctx, services.SignUpInput{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, r.sanitize("signUp", err)
	}
	return user, nil
}

func (r *Resolver) signIn(ctx context.Context, email, password string, expiresAt time.Time, twoFactorCode string) (*models.UserSession, error) {
	session, err := r.authenticator.SignIn(ctx, auth.SignInInput{
		Email:         email,
		Password:      password,
		ExpiresAt:     expiresAt,
		TwoFactorCode: twoFactorCode,
	})
	if err != nil {
		return nil, r.sanitize("signIn", err)
	}
	return session, nil
}

func (r *Resolver) deleteSession(ctx context.Context) (bool, error) {
	token := SessionTokenFrom(ctx)
	deleted, err := r.sessions.DeleteByToken(ctx, token)
	if err != nil {
		return false, r.sanitize("deleteSession", err)
	}
	return deleted, nil
}

// currentUser resolves the calling session into its owning user.
func (r *Resolver) currentUser(ctx context.Context) (*models.User, error) {
	token := SessionTokenFrom(ctx)
	if token == "" {
		return nil, auth.ErrSessionRequired
	}

	session, err := r.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, err
	}

	return r.accounts.GetByID(ctx, session.UserID)
}

func (r *Resolver) viewer(ctx context.Context) (*models.User, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return nil, r.sanitize("viewer", err)
	}
	return user, nil
}

func (r *Resolver) viewerSessions(ctx context.Context) ([]models.UserSession, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return nil, r.sanitize("sessions", err)
	}

	sessions, err := r.sessions.ListForUser(ctx, user.ID)
	if err != nil {
		return nil, r.sanitize("sessions", err)
	}
	return sessions, nil
}

func (r *Resolver) enrollTwoFactor(ctx context.Context, password string) (*mfa.Enrollment, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return nil, r.sanitize("enrollTwoFactor", err)
	}

	ok, err := r.accounts.VerifyPassword(ctx, user.ID, password)
	if err != nil {
		return nil, r.sanitize("enrollTwoFactor", err)
	}
	if !ok {
		return nil, auth.ErrInvalidPassword
	}

	enrollment, err := r.twoFactor.Enroll(user.ID, user.Email)
	if err != nil {
		return nil, r.sanitize("enrollTwoFactor", err)
	}
	return enrollment, nil
}

func (r *Resolver) activateTwoFactor(ctx context.Context, code string) (bool, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return false, r.sanitize("activateTwoFactor", err)
	}

	ok, err := r.twoFactor.Activate(user.ID, code)
	if err != nil {
		if errors.Is(err, mfa.ErrNotEnrolled) {
			return false, auth.ErrTwoFactorInvalid
		}
		return false, r.sanitize("activateTwoFactor", err)
	}
	if !ok {
		return false, auth.ErrTwoFactorInvalid
	}
	return true, nil
}

func (r *Resolver) disableTwoFactor(ctx context.Context, password, code string) (bool, error) {
	user, err := r.currentUser(ctx)
	if err != nil {
		return false, r.sanitize("disableTwoFactor", err)
	}

	ok, err := r.accounts.VerifyPassword(ctx, user.ID, password)
	if err != nil {
		return false, r.sanitize("disableTwoFactor", err)
	}
	if !ok {
		return false, auth.ErrInvalidPassword
	}

	_, ok, err = r.twoFactor.Verify(user.ID, code)
	if err != nil {
		if errors.Is(err, mfa.ErrNotEnrolled) {
			return false, auth.ErrTwoFactorInvalid
		}
		return false, r.sanitize("disableTwoFactor", err)
	}
	if !ok {
		return false, auth.ErrTwoFactorInvalid
	}

	if err := r.twoFactor.Disable(user.ID); err != nil {
		return false, r.sanitize("disableTwoFactor", err)
	}
	return true, nil
}

func (r *Resolver) verifyEmail(ctx context.Context, token string) (bool, error) {
	if r.verifications == nil {
		return false, apperrors.NewBadRequest("email verification is not enabled")
	}

	verification, err := r.verifications.VerifyToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrVerificationNotFound),
			errors.Is(err, services.ErrVerificationExpired),
			errors.Is(err, services.ErrVerificationUsed):
			return false, nil
		default:
			return false, r.sanitize("verifyEmail", err)
		}
	}

	if err := r.accounts.MarkEmailVerified(ctx, verification.UserID); err != nil {
		return false, r.sanitize("verifyEmail", err)
	}
	return true, nil
}

func encodePNG(png []byte) string {
	return base64.StdEncoding.EncodeToString(png)
}
