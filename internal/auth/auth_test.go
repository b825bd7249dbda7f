package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-signal-engine/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newService(t *testing.T, enabled bool) *Service {
	t.Helper()
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)
	return NewService(config.AuthConfig{
		Enabled:             enabled,
		JWTSecret:           testSecret,
		AccessTokenDuration: time.Hour,
		AdminPasswordHash:   hash,
	})
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, VerifyPassword("s3cret", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("s3cret", ""))
}

func TestJWT_RoundTripAndExpiry(t *testing.T) {
	m := NewJWTManager(testSecret, time.Minute)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	token, expiresAt, err := m.GenerateAccessToken(UserClaims{Subject: AdminSubject, IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Minute), expiresAt)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, AdminSubject, claims.Subject)

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	other := NewJWTManager("another-secret-another-secret-xx", time.Minute)
	other.now = func() time.Time { return base }
	_, err = other.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Login(t *testing.T) {
	s := newService(t, true)

	_, err := s.Login("nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := s.Login("correct horse")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	_, err = newService(t, false).Login("correct horse")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func adminRouter(s *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/auth/login", NewHandlers(s).Login)
	r.GET("/admin", OptionalMiddleware(s), RequireAdmin(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": GetUserClaims(c).Subject})
	})
	return r
}

func TestMiddleware_AdminGate(t *testing.T) {
	s := newService(t, true)
	r := adminRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	body, _ := json.Marshal(LoginRequest{Password: "correct horse"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var tok TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), AdminSubject)
}

func TestMiddleware_DisabledAuthTreatsCallerAsAdmin(t *testing.T) {
	r := adminRouter(newService(t, false))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginHandler_BadRequests(t *testing.T) {
	r := adminRouter(newService(t, true))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte(`{"password":"bad"}`))))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
