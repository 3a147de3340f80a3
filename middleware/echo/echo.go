// Package echo provides Echo middleware for session authentication and premium gating
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	mwhttp "github.com/mihaimyh/secondchance/middleware/http"
	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// PrincipalKey is the Echo context key under which Authenticate stores the principal
const PrincipalKey = "secondchance.principal"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Checker answers premium checks (required)
	Checker entitlement.PremiumChecker

	// GetUserID extracts user ID from context
	// Default: FromPrincipal()
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnForbidden is called when the user is not premium
	// If nil, returns 403 Forbidden
	OnForbidden func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Authenticate creates an Echo middleware that verifies the bearer token and
// stores the principal under PrincipalKey
func Authenticate(auth mwhttp.Authenticator) echo.MiddlewareFunc {
	if auth == nil {
		panic("secondchance/echo: Authenticator is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := mwhttp.BearerToken(c.Request())
			if token == "" {
				return defaultUnauthorized(c)
			}
			p, err := auth.Authenticate(token)
			if err != nil {
				return defaultUnauthorized(c)
			}
			c.Set(PrincipalKey, p)
			return next(c)
		}
	}
}

// Middleware creates an Echo middleware that only lets premium users through
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Checker == nil {
		panic("secondchance/echo: Config.Checker is required")
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromPrincipal()
	}
	if cfg.OnUnauthorized == nil {
		cfg.OnUnauthorized = defaultUnauthorized
	}
	if cfg.OnForbidden == nil {
		cfg.OnForbidden = defaultForbidden
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				return cfg.OnUnauthorized(c)
			}

			premium, err := cfg.Checker.IsPremium(c.Request().Context(), userID)
			if err != nil && !errors.Is(err, entitlement.ErrUserNotFound) {
				return cfg.OnError(c, err)
			}
			if !premium {
				return cfg.OnForbidden(c)
			}
			return next(c)
		}
	}
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultForbidden(c echo.Context) error {
	return c.JSON(http.StatusForbidden, map[string]string{"error": "Premium subscription required"})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromPrincipal returns a UserIDExtractor that reads the principal stored by Authenticate
func FromPrincipal() UserIDExtractor {
	return func(c echo.Context) string {
		if p, ok := c.Get(PrincipalKey).(*account.Principal); ok && p != nil {
			return p.UserID
		}
		return ""
	}
}

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
