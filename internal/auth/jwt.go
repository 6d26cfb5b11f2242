// Package auth issues discovery plugin tokens and guards the API with
// bcrypt-hashed API keys.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken is returned when a token is malformed or not signed by us
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token has expired
	ErrExpiredToken = errors.New("token has expired")
)

const pluginIssuer = "flightdeck-discovery"

// PluginClaims identify a discovery plugin. Subject is the plugin id and
// ID (jti) distinguishes successive tokens of the same plugin.
type PluginClaims struct {
	Realm string `json:"realm"`
	jwt.RegisteredClaims
}

// TokenService signs and validates discovery plugin tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service. A ttl of zero issues tokens
// that do not expire.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a new token for a plugin and returns it with its jti.
func (s *TokenService) Issue(pluginID, realm string) (string, string, error) {
	if len(s.secret) == 0 {
		return "", "", fmt.Errorf("plugin token secret is required")
	}
	now := s.now()
	jti := uuid.NewString()
	claims := PluginClaims{
		Realm: realm,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    pluginIssuer,
			Subject:   pluginID,
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, jti, nil
}

func (s *TokenService) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secret, nil
}

// Validate checks a token's signature and expiry and returns its claims.
func (s *TokenService) Validate(tokenString string) (*PluginClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PluginClaims{}, s.keyFunc,
		jwt.WithIssuer(pluginIssuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*PluginClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateAPIKey returns a random API key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey hashes an API key for security.api_key_hashes.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// ValidateSignature checks a token's signature and issuer but not its
// expiry. Plugins present it when renewing a token that already lapsed.
func (s *TokenService) ValidateSignature(tokenString string) (*PluginClaims, error) {
	claims := &PluginClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Issuer != pluginIssuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, claims.Issuer)
	}
	return claims, nil
}
