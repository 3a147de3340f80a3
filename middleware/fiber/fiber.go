// Package fiber provides Fiber middleware for session authentication and premium gating
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	mwhttp "github.com/mihaimyh/secondchance/middleware/http"
	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// PrincipalKey is the Fiber locals key under which Authenticate stores the principal
const PrincipalKey = "secondchance.principal"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Checker answers premium checks (required)
	Checker entitlement.PremiumChecker

	// GetUserID extracts user ID from context
	// Default: FromPrincipal()
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnForbidden is called when the user is not premium
	// If nil, returns 403 Forbidden
	OnForbidden func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Authenticate creates a Fiber middleware that verifies the bearer token and
// stores the principal in c.Locals(PrincipalKey)
func Authenticate(auth mwhttp.Authenticator) fiber.Handler {
	if auth == nil {
		panic("secondchance/fiber: Authenticator is required")
	}

	return func(c *fiber.Ctx) error {
		token := mwhttp.ParseBearer(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return defaultUnauthorized(c)
		}
		p, err := auth.Authenticate(token)
		if err != nil {
			return defaultUnauthorized(c)
		}
		c.Locals(PrincipalKey, p)
		return c.Next()
	}
}

// Middleware creates a Fiber middleware that only lets premium users through
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Checker == nil {
		panic("secondchance/fiber: Config.Checker is required")
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

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			return cfg.OnUnauthorized(c)
		}

		premium, err := cfg.Checker.IsPremium(c.UserContext(), userID)
		if err != nil && !errors.Is(err, entitlement.ErrUserNotFound) {
			return cfg.OnError(c, err)
		}
		if !premium {
			return cfg.OnForbidden(c)
		}
		return c.Next()
	}
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultForbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Premium subscription required"})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromPrincipal returns a UserIDExtractor that reads the principal stored by Authenticate
func FromPrincipal() UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if p, ok := c.Locals(PrincipalKey).(*account.Principal); ok && p != nil {
			return p.UserID
		}
		return ""
	}
}

// FromLocals returns a UserIDExtractor that gets user ID from c.Locals(key)
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
