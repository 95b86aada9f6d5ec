// Package auth guards the API routes with a static bearer token.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"jobmail/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Manager checks API requests against the configured token
type Manager struct {
	token  []byte
	logger zerolog.Logger
}

// NewManager creates a new authentication manager. An empty token disables
// the check.
func NewManager(token string, logger zerolog.Logger) *Manager {
	if token == "" {
		logger.Warn().Msg("API_TOKEN not set, API routes are unauthenticated")
	}
	return &Manager{token: []byte(token), logger: logger}
}

// Enabled reports whether requests are checked at all.
func (am *Manager) Enabled() bool {
	return len(am.token) > 0
}

// ValidateToken compares in constant time.
func (am *Manager) ValidateToken(token string) bool {
	if !am.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), am.token) == 1
}

// Middleware rejects requests without a valid "Authorization: Bearer" header
func (am *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !am.Enabled() {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || !am.ValidateToken(strings.TrimSpace(token)) {
				am.logger.Warn().Str("uri", c.Request().RequestURI).Str("remote_ip", c.RealIP()).Msg("Rejected unauthenticated request")
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
			}
			return next(c)
		}
	}
}
