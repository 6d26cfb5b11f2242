package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/flightdeck/internal/config"
)

func TestIssueAndValidate(t *testing.T) {
	s := NewTokenService("secret", time.Hour)

	token, jti, err := s.Issue("plugin-1", "my-realm")
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "plugin-1", claims.Subject)
	assert.Equal(t, "my-realm", claims.Realm)
	assert.Equal(t, jti, claims.ID)

	// Successive tokens differ by jti
	_, jti2, err := s.Issue("plugin-1", "my-realm")
	require.NoError(t, err)
	assert.NotEqual(t, jti, jti2)
}

func TestValidateRejects(t *testing.T) {
	s := NewTokenService("secret", time.Hour)
	token, _, err := s.Issue("p", "r")
	require.NoError(t, err)

	other := NewTokenService("other-secret", time.Hour)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Validate("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Tokens from another issuer are refused even with the right secret
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "someone-else", Subject: "p"})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.Validate(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	s := NewTokenService("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	token, _, err := s.Issue("p", "r")
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateSignatureIgnoresExpiry(t *testing.T) {
	s := NewTokenService("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	token, jti, err := s.Issue("p", "r")
	require.NoError(t, err)
	s.now = time.Now

	claims, err := s.ValidateSignature(token)
	require.NoError(t, err)
	assert.Equal(t, "p", claims.Subject)
	assert.Equal(t, jti, claims.ID)

	_, err = NewTokenService("other-secret", time.Minute).ValidateSignature(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "someone-else", Subject: "p"})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.ValidateSignature(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNoExpiryWhenTTLZero(t *testing.T) {
	s := NewTokenService("secret", 0)
	token, _, err := s.Issue("p", "r")
	require.NoError(t, err)
	claims, err := s.Validate(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestIssueRequiresSecret(t *testing.T) {
	_, _, err := NewTokenService("", 0).Issue("p", "r")
	assert.Error(t, err)
}

func TestRequireAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	hash, err := HashAPIKey(key)
	require.NoError(t, err)

	m := NewMiddleware(config.SecurityConfig{AuthEnabled: true, APIKeyHashes: []string{hash}})
	e := echo.New()
	handler := m.RequireAPIKey(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", HeaderAPIKey, "nope", http.StatusUnauthorized},
		{"api key header", HeaderAPIKey, key, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + key, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			err := handler(e.NewContext(req, rec))
			if tt.status == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.status, he.Code)
		})
	}
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	m := NewMiddleware(config.SecurityConfig{})
	assert.False(t, m.Enabled())
	e := echo.New()
	rec := httptest.NewRecorder()
	err := m.RequireAPIKey(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })(
		e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
