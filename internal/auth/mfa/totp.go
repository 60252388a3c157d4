package mfa

import (
	cryptoRand "crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/pkg/crypto"
	"github.com/nightfall-hq/gatehouse/pkg/metrics"
)

const (
	defaultIssuer            = "Gatehouse"
	defaultRecoveryCodeCount = 10
	defaultQRCodeSize        = 256

	// totpSkew accepts codes from the adjacent time step in either direction.
	totpSkew   = 1
	totpPeriod = 30
)

// Method identifies how a two-factor code was verified.
type Method string

const (
	MethodTOTP     Method = "totp"
	MethodRecovery Method = "recovery"
)

// ErrNotEnrolled indicates the user has no activated two-factor secret.
var ErrNotEnrolled = errors.New("mfa: not enrolled")

// Option allows customising the TOTP service.
type Option func(*Service)

// WithIssuer overrides the issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithRecoveryCodeCount overrides the number of recovery codes generated.
func WithRecoveryCodeCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.recoveryCodes = count
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service manages two-factor secrets, recovery codes, and QR provisioning.
type Service struct {
	db            *gorm.DB
	encryptionKey []byte

	issuer        string
	recoveryCodes int
	qrCodeSize    int
	now           func() time.Time
}

// NewService constructs a two-factor service backed by the provided database.
// The encryption key protects stored TOTP secrets at rest.
func NewService(db *gorm.DB, encryptionKey []byte, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("mfa: db is required")
	}
	if len(encryptionKey) == 0 {
		return nil, errors.New("mfa: encryption key is required")
	}

	service := &Service{
		db:            db,
		encryptionKey: encryptionKey,
		issuer:        defaultIssuer,
		recoveryCodes: defaultRecoveryCodeCount,
		qrCodeSize:    defaultQRCodeSize,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Enrollment is the one-time payload returned when a secret is provisioned.
// RecoveryCodes are shown exactly once; only their hashes are stored.
type Enrollment struct {
	Secret        string
	OTPAuthURL    string
	QRCodePNG     []byte
	RecoveryCodes []string
}

// Enroll provisions a new, not-yet-activated secret for the user, replacing
// any previous enrollment. The secret is only enforced after Activate.
func (s *Service) Enroll(userID, email string) (*Enrollment, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	if userID == "" || email == "" {
		return nil, errors.New("mfa: user id and email are required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		Period:      totpPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: generate key: %w", err)
	}

	codes := make([]string, s.recoveryCodes)
	hashed := make([]string, s.recoveryCodes)
	for i := range codes {
		code, err := generateRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("mfa: generate recovery code: %w", err)
		}
		hash, err := crypto.HashPassword(code)
		if err != nil {
			return nil, fmt.Errorf("mfa: hash recovery code: %w", err)
		}
		codes[i] = code
		hashed[i] = hash
	}

	encryptedSecret, err := crypto.Encrypt([]byte(key.Secret()), s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("mfa: encrypt secret: %w", err)
	}

	codesJSON, err := json.Marshal(hashed)
	if err != nil {
		return nil, fmt.Errorf("mfa: marshal recovery codes: %w", err)
	}

	record := models.TwoFactorSecret{
		UserID:        userID,
		Secret:        encryptedSecret,
		RecoveryCodes: datatypes.JSON(codesJSON),
		Activated:     false,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.TwoFactorSecret{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mfa: store secret: %w", err)
	}

	png, err := qrcode.Encode(key.String(), qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("mfa: encode qr: %w", err)
	}

	return &Enrollment{
		Secret:        key.Secret(),
		OTPAuthURL:    key.String(),
		QRCodePNG:     png,
		RecoveryCodes: codes,
	}, nil
}

// Activate confirms possession of a provisioned secret. The secret is not
// enforced at sign-in until this succeeds.
func (s *Service) Activate(userID, code string) (bool, error) {
	secret, err := s.loadSecret(userID)
	if err != nil {
		return false, err
	}

	ok, err := s.validateTOTP(secret, code)
	if err != nil || !ok {
		return false, err
	}

	now := s.now()
	if err := s.db.Model(secret).Updates(map[string]any{
		"activated":    true,
		"last_used_at": &now,
	}).Error; err != nil {
		return false, fmt.Errorf("mfa: activate secret: %w", err)
	}

	return true, nil
}

// Disable removes the user's two-factor enrollment.
func (s *Service) Disable(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("mfa: user id is required")
	}
	if err := s.db.Where("user_id = ?", userID).Delete(&models.TwoFactorSecret{}).Error; err != nil {
		return fmt.Errorf("mfa: disable: %w", err)
	}
	return nil
}

// Verify checks a submitted code against the user's activated secret: first as
// a TOTP code within the accepted skew, then as a single-use recovery code.
// A matched recovery code is consumed atomically; reuse fails.
func (s *Service) Verify(userID, code string) (Method, bool, error) {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return "", false, errors.New("mfa: user id and code are required")
	}

	secret, err := s.loadSecret(userID)
	if err != nil {
		return "", false, err
	}
	if !secret.Activated {
		return "", false, ErrNotEnrolled
	}

	ok, err := s.validateTOTP(secret, code)
	if err != nil {
		return "", false, err
	}
	if ok {
		now := s.now()
		if err := s.db.Model(secret).Update("last_used_at", &now).Error; err != nil {
			return "", false, fmt.Errorf("mfa: update last used: %w", err)
		}
		metrics.TwoFactorChecks.WithLabelValues(string(MethodTOTP), "success").Inc()
		return MethodTOTP, true, nil
	}

	consumed, err := s.consumeRecoveryCode(secret, code)
	if err != nil {
		return "", false, err
	}
	if consumed {
		metrics.TwoFactorChecks.WithLabelValues(string(MethodRecovery), "success").Inc()
		return MethodRecovery, true, nil
	}

	metrics.TwoFactorChecks.WithLabelValues(string(MethodTOTP), "failure").Inc()
	return "", false, nil
}

// RemainingRecoveryCodes returns the number of recovery codes still unused.
func (s *Service) RemainingRecoveryCodes(userID string) (int, error) {
	secret, err := s.loadSecret(strings.TrimSpace(userID))
	if err != nil {
		return 0, err
	}

	var hashed []string
	if err := json.Unmarshal(secret.RecoveryCodes, &hashed); err != nil {
		return 0, fmt.Errorf("mfa: unmarshal recovery codes: %w", err)
	}

	return len(hashed), nil
}

func (s *Service) validateTOTP(secret *models.TwoFactorSecret, code string) (bool, error) {
	rawSecret, err := crypto.Decrypt(secret.Secret, s.encryptionKey)
	if err != nil {
		return false, fmt.Errorf("mfa: decrypt secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, string(rawSecret), s.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	// A code of the wrong length can never be a TOTP passcode, but it may
	// still be a recovery code; report a mismatch rather than an error so the
	// caller can fall through.
	if errors.Is(err, otp.ErrValidateInputInvalidLength) {
		return false, nil
	}
	return valid, err
}

// consumeRecoveryCode removes a matching code with a value-guarded update so
// concurrent attempts cannot both spend the same code.
func (s *Service) consumeRecoveryCode(secret *models.TwoFactorSecret, code string) (bool, error) {
	var hashed []string
	if err := json.Unmarshal(secret.RecoveryCodes, &hashed); err != nil {
		return false, fmt.Errorf("mfa: unmarshal recovery codes: %w", err)
	}

	matched := -1
	for i, stored := range hashed {
		if crypto.VerifyPassword(stored, code) {
			matched = i
			break
		}
	}
	if matched < 0 {
		return false, nil
	}

	remaining := append(hashed[:matched], hashed[matched+1:]...)
	encoded, err := json.Marshal(remaining)
	if err != nil {
		return false, fmt.Errorf("mfa: marshal recovery codes: %w", err)
	}

	now := s.now()
	result := s.db.Model(&models.TwoFactorSecret{}).
		Where("user_id = ? AND recovery_codes = ?", secret.UserID, string(secret.RecoveryCodes)).
		Updates(map[string]any{
			"recovery_codes": string(encoded),
			"last_used_at":   &now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("mfa: consume recovery code: %w", result.Error)
	}

	// Zero rows means a concurrent request rewrote the set first; the code is
	// treated as already spent.
	return result.RowsAffected > 0, nil
}

func (s *Service) loadSecret(userID string) (*models.TwoFactorSecret, error) {
	if userID == "" {
		return nil, errors.New("mfa: user id is required")
	}

	var secret models.TwoFactorSecret
	if err := s.db.Where("user_id = ?", userID).First(&secret).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("mfa: load secret: %w", err)
	}

	return &secret, nil
}

func generateRecoveryCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := cryptoRand.Read(buf); err != nil {
		return "", err
	}

	return base32.StdEncoding.EncodeToString(buf)[:8], nil
}
