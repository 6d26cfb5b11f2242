package auth

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"evalgo.org/flightdeck/internal/config"
)

// HeaderAPIKey carries the API key. "Authorization: Bearer <key>" is accepted too.
const HeaderAPIKey = "X-API-Key"

// Middleware checks API keys against configured bcrypt hashes.
type Middleware struct {
	enabled bool
	hashes  [][]byte

	// accepted remembers digests of keys that already passed bcrypt
	mu       sync.RWMutex
	accepted map[[sha256.Size]byte]bool
}

// NewMiddleware creates the API key middleware.
func NewMiddleware(cfg config.SecurityConfig) *Middleware {
	m := &Middleware{
		enabled:  cfg.AuthEnabled,
		accepted: make(map[[sha256.Size]byte]bool),
	}
	for _, h := range cfg.APIKeyHashes {
		m.hashes = append(m.hashes, []byte(h))
	}
	return m
}

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool {
	return m.enabled
}

// Check reports whether key matches one of the configured hashes.
func (m *Middleware) Check(key string) bool {
	if key == "" {
		return false
	}
	digest := sha256.Sum256([]byte(key))
	m.mu.RLock()
	ok := m.accepted[digest]
	m.mu.RUnlock()
	if ok {
		return true
	}
	for _, h := range m.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			m.mu.Lock()
			m.accepted[digest] = true
			m.mu.Unlock()
			return true
		}
	}
	return false
}

// RequireAPIKey rejects requests without a valid API key.
func (m *Middleware) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !m.enabled {
			return next(c)
		}

		key := c.Request().Header.Get(HeaderAPIKey)
		if key == "" {
			authHeader := c.Request().Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				key = parts[1]
			}
		}
		if key == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
		}
		if !m.Check(key) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return next(c)
	}
}
