// Package gin provides Gin middleware for session authentication and premium gating
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	mwhttp "github.com/mihaimyh/secondchance/middleware/http"
	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// PrincipalKey is the Gin context key under which Authenticate stores the principal
const PrincipalKey = "secondchance.principal"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Checker answers premium checks (required)
	Checker entitlement.PremiumChecker

	// GetUserID extracts user ID from context
	// Default: FromPrincipal()
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnForbidden is called when the user is not premium
	// If nil, returns 403 Forbidden
	OnForbidden func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Authenticate creates a Gin middleware that verifies the bearer token and
// stores the principal under PrincipalKey
func Authenticate(auth mwhttp.Authenticator) gongin.HandlerFunc {
	if auth == nil {
		panic("secondchance/gin: Authenticator is required")
	}

	return func(c *gongin.Context) {
		token := mwhttp.BearerToken(c.Request)
		if token == "" {
			defaultUnauthorized(c)
			c.Abort()
			return
		}
		p, err := auth.Authenticate(token)
		if err != nil {
			defaultUnauthorized(c)
			c.Abort()
			return
		}
		c.Set(PrincipalKey, p)
		c.Next()
	}
}

// Middleware creates a Gin middleware that only lets premium users through
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Checker == nil {
		panic("secondchance/gin: Config.Checker is required")
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromPrincipal()
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		premium, err := cfg.Checker.IsPremium(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, entitlement.ErrUserNotFound) {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}
		if !premium {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c)
			} else {
				defaultForbidden(c)
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultForbidden(c *gongin.Context) {
	c.JSON(http.StatusForbidden, gongin.H{"error": "Premium subscription required"})
}

func defaultError(c *gongin.Context, _ error) {
	c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromPrincipal returns a UserIDExtractor that reads the principal stored by Authenticate
func FromPrincipal() UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(PrincipalKey); exists {
			if p, ok := val.(*account.Principal); ok && p != nil {
				return p.UserID
			}
		}
		return ""
	}
}

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// set by another auth middleware via c.Set(key, userID)
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}
