package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nightfall-hq/gatehouse/internal/auth"
	"github.com/nightfall-hq/gatehouse/internal/auth/mfa"
	"github.com/nightfall-hq/gatehouse/internal/database/testutil"
	"github.com/nightfall-hq/gatehouse/internal/graph"
	"github.com/nightfall-hq/gatehouse/internal/services"
	"github.com/nightfall-hq/gatehouse/pkg/logger"
)

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
}

func TestGraphQLEndpoint(t *testing.T) {
	router, _ := setupRouter(t)

	body := `{"query": "mutation { signUp(email: \"router@example.com\", password: \"correct horse battery staple\") { email } }"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var payload struct {
		Data struct {
			SignUp struct {
				Email string `json:"email"`
			} `json:"signUp"`
		} `json:"data"`
		Errors []json.RawMessage `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Empty(t, payload.Errors)
	require.Equal(t, "router@example.com", payload.Data.SignUp.Email)
}

func TestGraphQLBearerTokenReachesResolvers(t *testing.T) {
	router, db := setupRouter(t)

	signUp := `{"query": "mutation { signUp(email: \"bearer@example.com\", password: \"correct horse battery staple\") { id } }"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(signUp))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{})
	require.NoError(t, err)

	var userID string
	require.NoError(t, db.Raw("SELECT id FROM users WHERE email = ?", "bearer@example.com").Scan(&userID).Error)
	session, err := sessions.Issue(req.Context(), userID, timeNowPlusDay())
	require.NoError(t, err)

	viewer := `{"query": "query { viewer { email } }"}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(viewer))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.ID)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "bearer@example.com")
}

func TestGraphiQLDisabledByDefault(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func timeNowPlusDay() time.Time {
	return time.Now().Add(24 * time.Hour)
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	require.NoError(t, logger.Init("error"))

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{})
	require.NoError(t, err)

	twoFactor, err := mfa.NewService(db, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	authenticator, err := auth.NewAuthenticator(db, sessions, twoFactor)
	require.NoError(t, err)

	accounts, err := services.NewAccountService(db, nil)
	require.NoError(t, err)

	resolver, err := graph.NewResolver(accounts, nil, authenticator, sessions, twoFactor)
	require.NoError(t, err)

	router, err := NewRouter(db, resolver, false)
	require.NoError(t, err)

	return router, db
}
