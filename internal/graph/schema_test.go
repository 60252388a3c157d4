package graph

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/auth"
	"github.com/nightfall-hq/gatehouse/internal/auth/mfa"
	"github.com/nightfall-hq/gatehouse/internal/database/testutil"
	"github.com/nightfall-hq/gatehouse/internal/models"
	"github.com/nightfall-hq/gatehouse/internal/services"
)

const testPassword = "correct horse battery staple"

func TestSignUpMutation(t *testing.T) {
	_, schema := setupSchema(t)

	result := exec(t, schema, context.Background(), `
		mutation {
			signUp(email: "alice@example.com", password: "correct horse battery staple") {
				id
				email
				isEmailVerified
				twoFactorEnabled
			}
		}`, nil)
	require.Empty(t, result.Errors)

	payload := field(t, result.Data, "signUp")
	require.Equal(t, "alice@example.com", payload["email"])
	require.Len(t, payload["id"], models.UserIDLength)
	require.Equal(t, false, payload["isEmailVerified"])
	require.Equal(t, false, payload["twoFactorEnabled"])
}

func TestSignUpMutationWeakPassword(t *testing.T) {
	_, schema := setupSchema(t)

	result := exec(t, schema, context.Background(), `
		mutation {
			signUp(email: "bob@example.com", password: "123456") { id }
		}`, nil)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "WEAK_PASSWORD", result.Errors[0].Extensions["code"])
	require.Contains(t, result.Errors[0].Extensions, "feedback")
}

func TestSignUpMutationDuplicateEmail(t *testing.T) {
	_, schema := setupSchema(t)
	ctx := context.Background()

	first := exec(t, schema, ctx, `
		mutation {
			signUp(email: "carol@example.com", password: "correct horse battery staple") { id }
		}`, nil)
	require.Empty(t, first.Errors)

	// The duplicate is reported even when the second password is weak.
	second := exec(t, schema, ctx, `
		mutation {
			signUp(email: "carol@example.com", password: "123456") { id }
		}`, nil)
	require.Len(t, second.Errors, 1)
	require.Equal(t, "EMAIL_ALREADY_EXISTS", second.Errors[0].Extensions["code"])
	require.Equal(t, "carol@example.com", second.Errors[0].Extensions["email"])
}

func TestSignInMutation(t *testing.T) {
	_, schema := setupSchema(t)
	ctx := context.Background()
	signUpUser(t, schema, "dave@example.com")

	result := exec(t, schema, ctx, `
		mutation ($expiresAt: DateTime!) {
			signIn(email: "dave@example.com", password: "correct horse battery staple", expiresAt: $expiresAt) {
				id
				userId
			}
		}`, map[string]interface{}{
		"expiresAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Empty(t, result.Errors)

	payload := field(t, result.Data, "signIn")
	require.Len(t, payload["id"], models.SessionTokenLength)
	require.NotEmpty(t, payload["userId"])
}

func TestSignInMutationErrors(t *testing.T) {
	_, schema := setupSchema(t)
	ctx := context.Background()
	signUpUser(t, schema, "erin@example.com")

	tests := []struct {
		name      string
		password  string
		expiresAt time.Time
		wantCode  string
	}{
		{"wrong password", "nope", time.Now().Add(24 * time.Hour), "INVALID_PASSWORD"},
		{"expiry too soon", testPassword, time.Now().Add(30 * time.Minute), "INVALID_EXPIRATION_DATE"},
		{"expiry too late", testPassword, time.Now().Add(400 * 24 * time.Hour), "INVALID_EXPIRATION_DATE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := exec(t, schema, ctx, `
				mutation ($password: String!, $expiresAt: DateTime!) {
					signIn(email: "erin@example.com", password: $password, expiresAt: $expiresAt) { id }
				}`, map[string]interface{}{
				"password":  tc.password,
				"expiresAt": tc.expiresAt.Format(time.RFC3339),
			})
			require.Len(t, result.Errors, 1)
			require.Equal(t, tc.wantCode, result.Errors[0].Extensions["code"])
		})
	}
}

func TestSignInMutationUnknownUser(t *testing.T) {
	_, schema := setupSchema(t)

	result := exec(t, schema, context.Background(), `
		mutation ($expiresAt: DateTime!) {
			signIn(email: "ghost@example.com", password: "whatever", expiresAt: $expiresAt) { id }
		}`, map[string]interface{}{
		"expiresAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Len(t, result.Errors, 1)
	require.Equal(t, "USER_NOT_FOUND", result.Errors[0].Extensions["code"])
}

func TestSessionCapSurfacesThroughAPI(t *testing.T) {
	_, schema := setupSchema(t)
	ctx := context.Background()
	signUpUser(t, schema, "frank@example.com")

	signIn := func() *graphql.Result {
		return exec(t, schema, ctx, `
			mutation ($expiresAt: DateTime!) {
				signIn(email: "frank@example.com", password: "correct horse battery staple", expiresAt: $expiresAt) { id }
			}`, map[string]interface{}{
			"expiresAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
	}

	for i := 0; i < auth.DefaultMaxSessions; i++ {
		require.Empty(t, signIn().Errors)
	}

	capped := signIn()
	require.Len(t, capped.Errors, 1)
	require.Equal(t, "MAX_SESSIONS_PER_USER", capped.Errors[0].Extensions["code"])
}

func TestDeleteSessionMutation(t *testing.T) {
	_, schema := setupSchema(t)
	signUpUser(t, schema, "grace@example.com")
	token := signInUser(t, schema, "grace@example.com")

	ctx := WithSessionToken(context.Background(), token)

	result := exec(t, schema, ctx, `mutation { deleteSession }`, nil)
	require.Empty(t, result.Errors)
	require.Equal(t, true, result.Data.(map[string]interface{})["deleteSession"])

	// Deleting again is idempotent and reports false.
	again := exec(t, schema, ctx, `mutation { deleteSession }`, nil)
	require.Empty(t, again.Errors)
	require.Equal(t, false, again.Data.(map[string]interface{})["deleteSession"])
}

func TestDeleteSessionRequiresToken(t *testing.T) {
	_, schema := setupSchema(t)

	result := exec(t, schema, context.Background(), `mutation { deleteSession }`, nil)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "SESSION_REQUIRED", result.Errors[0].Extensions["code"])
}

func TestViewerQuery(t *testing.T) {
	_, schema := setupSchema(t)
	signUpUser(t, schema, "heidi@example.com")
	token := signInUser(t, schema, "heidi@example.com")

	ctx := WithSessionToken(context.Background(), token)
	result := exec(t, schema, ctx, `query { viewer { email twoFactorEnabled } }`, nil)
	require.Empty(t, result.Errors)

	payload := field(t, result.Data, "viewer")
	require.Equal(t, "heidi@example.com", payload["email"])

	// An unauthenticated viewer query fails.
	anon := exec(t, schema, context.Background(), `query { viewer { email } }`, nil)
	require.Len(t, anon.Errors, 1)
	require.Equal(t, "SESSION_REQUIRED", anon.Errors[0].Extensions["code"])

	// A bogus token is unauthorized.
	bogus := exec(t, schema, WithSessionToken(context.Background(), "bogus-token"), `query { viewer { email } }`, nil)
	require.Len(t, bogus.Errors, 1)
	require.Equal(t, "UNAUTHORIZED", bogus.Errors[0].Extensions["code"])
}

func TestSessionsQuery(t *testing.T) {
	_, schema := setupSchema(t)
	signUpUser(t, schema, "ivan@example.com")
	first := signInUser(t, schema, "ivan@example.com")
	signInUser(t, schema, "ivan@example.com")

	ctx := WithSessionToken(context.Background(), first)
	result := exec(t, schema, ctx, `query { sessions { id userId } }`, nil)
	require.Empty(t, result.Errors)

	sessions := result.Data.(map[string]interface{})["sessions"].([]interface{})
	require.Len(t, sessions, 2)
}

func TestTwoFactorLifecycleThroughAPI(t *testing.T) {
	db, schema := setupSchema(t)
	signUpUser(t, schema, "judy@example.com")
	token := signInUser(t, schema, "judy@example.com")
	ctx := WithSessionToken(context.Background(), token)

	enroll := exec(t, schema, ctx, `
		mutation {
			enrollTwoFactor(password: "correct horse battery staple") {
				secret
				otpauthUrl
				qrCode
				recoveryCodes
			}
		}`, nil)
	require.Empty(t, enroll.Errors)

	payload := field(t, enroll.Data, "enrollTwoFactor")
	require.NotEmpty(t, payload["secret"])
	require.NotEmpty(t, payload["qrCode"])
	require.Len(t, payload["recoveryCodes"], 10)

	// Wrong password is rejected before enrollment.
	denied := exec(t, schema, ctx, `
		mutation { enrollTwoFactor(password: "wrong") { secret } }`, nil)
	require.Len(t, denied.Errors, 1)
	require.Equal(t, "INVALID_PASSWORD", denied.Errors[0].Extensions["code"])

	// Activation with a wrong code fails; the secret stays inactive.
	badActivate := exec(t, schema, ctx, `mutation { activateTwoFactor(code: "000000") }`, nil)
	require.Len(t, badActivate.Errors, 1)
	require.Equal(t, "INVALID_2FA_CODE", badActivate.Errors[0].Extensions["code"])

	var stored models.TwoFactorSecret
	require.NoError(t, db.Take(&stored).Error)
	require.False(t, stored.Activated)
}

func TestSignInWithRecoveryCode(t *testing.T) {
	_, schema := setupSchema(t)
	signUpUser(t, schema, "laura@example.com")
	token := signInUser(t, schema, "laura@example.com")
	ctx := WithSessionToken(context.Background(), token)

	enroll := exec(t, schema, ctx, `
		mutation {
			enrollTwoFactor(password: "correct horse battery staple") {
				secret
				recoveryCodes
			}
		}`, nil)
	require.Empty(t, enroll.Errors)

	payload := field(t, enroll.Data, "enrollTwoFactor")
	secret := payload["secret"].(string)
	recovery := payload["recoveryCodes"].([]interface{})[0].(string)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	activate := exec(t, schema, ctx, `
		mutation ($code: String!) { activateTwoFactor(code: $code) }`,
		map[string]interface{}{"code": code})
	require.Empty(t, activate.Errors)

	signIn := func(twoFactorCode string) *graphql.Result {
		return exec(t, schema, context.Background(), `
			mutation ($expiresAt: DateTime!, $code: String) {
				signIn(email: "laura@example.com", password: "correct horse battery staple", expiresAt: $expiresAt, twoFactorCode: $code) { id }
			}`, map[string]interface{}{
			"expiresAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			"code":      twoFactorCode,
		})
	}

	// Without a code the sign-in demands two-factor.
	missing := signIn("")
	require.Len(t, missing.Errors, 1)
	require.Equal(t, "2FA_REQUIRED", missing.Errors[0].Extensions["code"])

	// An eight-character recovery code signs in even though it is not a
	// valid TOTP passcode.
	result := signIn(recovery)
	require.Empty(t, result.Errors)
	require.Len(t, field(t, result.Data, "signIn")["id"], models.SessionTokenLength)

	// The code was consumed; a second use is rejected.
	reused := signIn(recovery)
	require.Len(t, reused.Errors, 1)
	require.Equal(t, "INVALID_2FA_CODE", reused.Errors[0].Extensions["code"])
}

func TestVerifyEmailMutation(t *testing.T) {
	db, schema := setupSchema(t)
	signUpUser(t, schema, "kate@example.com")

	var user models.User
	require.NoError(t, db.Take(&user, "email = ?", "kate@example.com").Error)

	verifications, err := services.NewEmailVerificationService(db, nil)
	require.NoError(t, err)
	token, _, err := verifications.CreateToken(context.Background(), user.ID, user.Email)
	require.NoError(t, err)

	ctx := context.Background()
	result := exec(t, schema, ctx, `
		mutation ($token: String!) { verifyEmail(token: $token) }`,
		map[string]interface{}{"token": token})
	require.Empty(t, result.Errors)
	require.Equal(t, true, result.Data.(map[string]interface{})["verifyEmail"])

	require.NoError(t, db.Take(&user, "id = ?", user.ID).Error)
	require.True(t, user.IsEmailVerified)

	// A consumed token verifies false without erroring.
	reused := exec(t, schema, ctx, `
		mutation ($token: String!) { verifyEmail(token: $token) }`,
		map[string]interface{}{"token": token})
	require.Empty(t, reused.Errors)
	require.Equal(t, false, reused.Data.(map[string]interface{})["verifyEmail"])
}

func setupSchema(t *testing.T) (*gorm.DB, graphql.Schema) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{})
	require.NoError(t, err)

	twoFactor, err := mfa.NewService(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	authenticator, err := auth.NewAuthenticator(db, sessions, twoFactor)
	require.NoError(t, err)

	verifications, err := services.NewEmailVerificationService(db, nil)
	require.NoError(t, err)

	accounts, err := services.NewAccountService(db, verifications)
	require.NoError(t, err)

	resolver, err := NewResolver(accounts, verifications, authenticator, sessions, twoFactor)
	require.NoError(t, err)

	schema, err := NewSchema(resolver)
	require.NoError(t, err)

	return db, schema
}

func exec(t *testing.T, schema graphql.Schema, ctx context.Context, query string, variables map[string]interface{}) *graphql.Result {
	t.Helper()

	return graphql.Do(graphql.Params{
		Schema:         schema,
		RequestString:  query,
		VariableValues: variables,
		Context:        ctx,
	})
}

func signUpUser(t *testing.T, schema graphql.Schema, email string) {
	t.Helper()

	result := exec(t, schema, context.Background(), `
		mutation ($email: String!, $password: String!) {
			signUp(email: $email, password: $password) { id }
		}`, map[string]interface{}{
		"email":    email,
		"password": testPassword,
	})
	require.Empty(t, result.Errors)
}

func signInUser(t *testing.T, schema graphql.Schema, email string) string {
	t.Helper()

	result := exec(t, schema, context.Background(), `
		mutation ($email: String!, $password: String!, $expiresAt: DateTime!) {
			signIn(email: $email, password: $password, expiresAt: $expiresAt) { id }
		}`, map[string]interface{}{
		"email":     email,
		"password":  testPassword,
		"expiresAt": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})
	require.Empty(t, result.Errors)

	return field(t, result.Data, "signIn")["id"].(string)
}

func field(t *testing.T, data interface{}, name string) map[string]interface{} {
	t.Helper()

	root, ok := data.(map[string]interface{})
	require.True(t, ok, "unexpected result shape %T", data)
	payload, ok := root[name].(map[string]interface{})
	require.True(t, ok, "missing %s payload", name)
	return payload
}
