// Package http provides net/http middleware for session authentication and
// premium gating
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// Authenticator verifies session tokens. *account.Service satisfies it.
type Authenticator interface {
	Authenticate(token string) (*account.Principal, error)
}

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// ContextKey is a type for context keys
type ContextKey string

const (
	// PrincipalKey is the context key for the authenticated principal
	PrincipalKey ContextKey = "secondchance:principal"
)

// WithPrincipal returns a copy of ctx carrying p
func WithPrincipal(ctx context.Context, p *account.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext returns the principal stored by Authenticate
func PrincipalFromContext(ctx context.Context) (*account.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*account.Principal)
	return p, ok && p != nil
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) string {
	return ParseBearer(r.Header.Get("Authorization"))
}

// ParseBearer extracts the token from an Authorization header value
func ParseBearer(header string) string {
	const prefix = "bearer "
	h := strings.TrimSpace(header)
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// AuthConfig holds authentication middleware configuration
type AuthConfig struct {
	// Authenticator verifies the bearer token (required)
	Authenticator Authenticator

	// OnUnauthorized is called when the token is missing or invalid
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Authenticate creates a middleware that rejects requests without a valid
// session token and stores the principal in the request context
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	if cfg.Authenticator == nil {
		panic("secondchance/http: AuthConfig.Authenticator is required")
	}
	if cfg.OnUnauthorized == nil {
		cfg.OnUnauthorized = defaultUnauthorized
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				cfg.OnUnauthorized(w, r)
				return
			}
			p, err := cfg.Authenticator.Authenticate(token)
			if err != nil {
				cfg.OnUnauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// PremiumConfig holds premium gating middleware configuration
type PremiumConfig struct {
	// Checker answers premium checks (required)
	Checker entitlement.PremiumChecker

	// GetUserID extracts user ID from request
	// Default: FromPrincipal()
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnForbidden is called when the user is not premium
	// If nil, returns 403 Forbidden
	OnForbidden func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the premium check fails
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequirePremium creates a middleware that only lets premium users through
func RequirePremium(cfg PremiumConfig) func(http.Handler) http.Handler {
	if cfg.Checker == nil {
		panic("secondchance/http: PremiumConfig.Checker is required")
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

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := cfg.GetUserID(r)
			if userID == "" {
				cfg.OnUnauthorized(w, r)
				return
			}

			premium, err := cfg.Checker.IsPremium(r.Context(), userID)
			if err != nil && !errors.Is(err, entitlement.ErrUserNotFound) {
				cfg.OnError(w, r, err)
				return
			}
			if !premium {
				cfg.OnForbidden(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Convenience extractors for User ID

// FromPrincipal returns a UserIDExtractor that reads the principal stored by Authenticate
func FromPrincipal() UserIDExtractor {
	return func(r *http.Request) string {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			return p.UserID
		}
		return ""
	}
}

// FromContext returns a UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// Default error handlers

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck // Response already committed
}

func defaultUnauthorized(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusUnauthorized, "Unauthorized")
}

func defaultForbidden(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusForbidden, "Premium subscription required")
}

func defaultError(w http.ResponseWriter, _ *http.Request, _ error) {
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}
