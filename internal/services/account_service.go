package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/auth/password"
	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/pkg/crypto"
	apperrors "github.com/nightfall-hq/gatehouse/pkg/errors"
	"github.com/nightfall-hq/gatehouse/pkg/logger"
	"github.com/nightfall-hq/gatehouse/pkg/metrics"
	"github.com/nightfall-hq/gatehouse/pkg/validator"
)

// userIDAttempts bounds identifier regeneration on collision; the unique
// primary key on users.id is the backstop under concurrency.
const userIDAttempts = 10

var (
	// ErrEmailExists indicates the email address is already registered.
	ErrEmailExists = apperrors.New("EMAIL_ALREADY_EXISTS", "An account with this email address already exists", http.StatusConflict)
	// ErrWeakPassword rejects passwords scoring below the strength threshold.
	ErrWeakPassword = apperrors.New("WEAK_PASSWORD", "Password is too weak", http.StatusBadRequest)
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
)

// SignUpInput describes the fields accepted when registering an account.
type SignUpInput struct {
	Email    string
	Password string
}

// AccountService manages account registration and lookup.
type AccountService struct {
	db            *gorm.DB
	verifications *EmailVerificationService
	log           *zap.Logger
}

// NewAccountService constructs an AccountService. The verification service is
// optional; without it sign-up skips issuing verification tokens.
func NewAccountService(db *gorm.DB, verifications *EmailVerificationService) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	return &AccountService{
		db:            db,
		verifications: verifications,
		log:           logger.WithModule("accounts"),
	}, nil
}

// SignUp registers a new account. The email uniqueness check runs before the
// strength evaluation so a taken address is reported regardless of password
// quality; the unique index catches the remaining race at insert time.
func (s *AccountService) SignUp(ctx context.Context, input SignUpInput) (*models.User, error) {
	user, err := s.signUp(ctx, input)
	if err != nil {
		metrics.SignUps.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.SignUps.WithLabelValues("success").Inc()
	return user, nil
}

func (s *AccountService) signUp(ctx context.Context, input SignUpInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := validator.ValidateVar(email, "required,email"); err != nil {
		return nil, apperrors.NewBadRequest("a valid email address is required")
	}

	var existing int64
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ?", email).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("account service: check email: %w", err)
	}
	if existing > 0 {
		return nil, ErrEmailExists.WithExtensions(map[string]any{"email": email})
	}

	strength := password.Evaluate(input.Password, email)
	if !strength.Acceptable() {
		return nil, ErrWeakPassword.WithExtensions(map[string]any{"feedback": strength.Feedback()})
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	user, err := s.createWithFreshID(ctx, email, hashed)
	if err != nil {
		return nil, err
	}

	if s.verifications != nil {
		if _, _, err := s.verifications.CreateToken(ctx, user.ID, user.Email); err != nil {
			// Verification mail is best effort; the account exists either way.
			s.log.Warn("issue verification token failed",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
		}
	}

	return user, nil
}

// createWithFreshID inserts the user plus default privacy and preference
// sub-records under a newly generated identifier, regenerating on collision.
func (s *AccountService) createWithFreshID(ctx context.Context, email, hashedPassword string) (*models.User, error) {
	for attempt := 0; attempt < userIDAttempts; attempt++ {
		id, err := crypto.RandomString(crypto.AlphabetLowerAlnum, models.UserIDLength)
		if err != nil {
			return nil, fmt.Errorf("account service: generate user id: %w", err)
		}

		user := &models.User{
			ID:             id,
			Email:          email,
			HashedPassword: hashedPassword,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(user).Error; err != nil {
				return err
			}
			if err := tx.Create(&models.UserPrivacy{UserID: id, ShowActivityStatus: true, AllowSessionListing: true}).Error; err != nil {
				return err
			}
			return tx.Create(&models.UserPreferences{UserID: id, Locale: "en", Theme: "system", EmailNotifications: true}).Error
		})
		if err == nil {
			return user, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("account service: create user: %w", err)
		}

		// A unique violation is either a lost race on the email or an ID
		// collision; only the latter warrants another attempt.
		var emailTaken int64
		if countErr := s.db.WithContext(ctx).
			Model(&models.User{}).
			Where("email = ?", email).
			Count(&emailTaken).Error; countErr == nil && emailTaken > 0 {
			return nil, ErrEmailExists.WithExtensions(map[string]any{"email": email})
		}
	}

	return nil, errors.New("account service: exhausted user id generation attempts")
}

// GetByID loads a user by identifier including sub-records.
func (s *AccountService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Privacy").
		Preload("Preferences").
		Preload("TwoFactor").
		Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("account service: get user: %w", err)
	}
	return &user, nil
}

// MarkEmailVerified flips the verification flag for the user.
func (s *AccountService) MarkEmailVerified(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("is_email_verified", true)
	if result.Error != nil {
		return fmt.Errorf("account service: mark verified: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// VerifyPassword checks a plaintext candidate against the stored hash,
// loading the user first. Used by two-factor management mutations.
func (s *AccountService) VerifyPassword(ctx context.Context, userID, candidate string) (bool, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("account service: load user: %w", err)
	}
	return crypto.VerifyPassword(user.HashedPassword, candidate), nil
}
