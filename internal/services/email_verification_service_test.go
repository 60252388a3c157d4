package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/database/testutil"
	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/pkg/mail"
)

func TestCreateTokenStoresHashOnly(t *testing.T) {
	db, svc, mailer, _ := setupVerificationService(t)
	ctx := context.Background()

	token, link, err := svc.CreateToken(ctx, "user0001", "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Contains(t, link, token)

	var stored models.EmailVerification
	require.NoError(t, db.Take(&stored, "user_id = ?", "user0001").Error)
	require.NotEqual(t, token, stored.TokenHash)
	require.Nil(t, stored.VerifiedAt)

	messages := mailer.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "user@example.com", messages[0].To)
	require.Contains(t, messages[0].Body, link)
}

func TestCreateTokenReplacesPrevious(t *testing.T) {
	db, svc, _, _ := setupVerificationService(t)
	ctx := context.Background()

	first, _, err := svc.CreateToken(ctx, "user0001", "user@example.com")
	require.NoError(t, err)
	_, _, err = svc.CreateToken(ctx, "user0001", "user@example.com")
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.EmailVerification{}).Where("user_id = ?", "user0001").Count(&count).Error)
	require.EqualValues(t, 1, count)

	_, err = svc.VerifyToken(ctx, first)
	require.ErrorIs(t, err, ErrVerificationNotFound)
}

func TestVerifyTokenConsumesOnce(t *testing.T) {
	_, svc, _, _ := setupVerificationService(t)
	ctx := context.Background()

	token, _, err := svc.CreateToken(ctx, "user0001", "user@example.com")
	require.NoError(t, err)

	verification, err := svc.VerifyToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "user0001", verification.UserID)
	require.NotNil(t, verification.VerifiedAt)

	_, err = svc.VerifyToken(ctx, token)
	require.ErrorIs(t, err, ErrVerificationUsed)
}

func TestVerifyTokenExpired(t *testing.T) {
	_, svc, _, clock := setupVerificationService(t)
	ctx := context.Background()

	token, _, err := svc.CreateToken(ctx, "user0001", "user@example.com")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	_, err = svc.VerifyToken(ctx, token)
	require.ErrorIs(t, err, ErrVerificationExpired)
}

func TestVerifyTokenUnknown(t *testing.T) {
	_, svc, _, _ := setupVerificationService(t)

	_, err := svc.VerifyToken(context.Background(), "bogus")
	require.ErrorIs(t, err, ErrVerificationNotFound)
}

func TestCleanupExpiredTokens(t *testing.T) {
	db, svc, _, clock := setupVerificationService(t)
	ctx := context.Background()

	_, _, err := svc.CreateToken(ctx, "user0001", "a@example.com")
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	_, _, err = svc.CreateToken(ctx, "user0002", "b@example.com")
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.EmailVerification
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "user0002", remaining[0].UserID)
}

func setupVerificationService(t *testing.T) (*gorm.DB, *EmailVerificationService, *captureMailer, *serviceClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &serviceClock{current: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	mailer := &captureMailer{}

	svc, err := NewEmailVerificationService(db, mailer,
		WithVerificationBaseURL("https://gatehouse.test/verify"),
		WithVerificationClock(clock.Now),
	)
	require.NoError(t, err)

	return db, svc, mailer, clock
}

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.sent...)
}

type serviceClock struct {
	current time.Time
}

func (c *serviceClock) Now() time.Time {
	return c.current
}

func (c *serviceClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
