package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/storage/memory"
)

// Test helper to create a ledger with a free and a premium user
func setupLedger(t *testing.T) *entitlement.Ledger {
	t.Helper()

	ctx := context.Background()
	store := memory.New()
	for _, id := range []string{"free_user", "premium_user"} {
		if err := store.CreateUser(ctx, &account.User{ID: id, Email: id + "@example.com", Name: id}); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}

	ledger, err := entitlement.NewLedger(store, nil)
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	if _, err := ledger.ApplyCheckoutCompleted(ctx, entitlement.Activation{
		UserID: "premium_user", SubscriptionID: "sub_1",
	}); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	return ledger
}

type tokenAuthenticator struct{ *account.TokenManager }

func (a tokenAuthenticator) Authenticate(token string) (*account.Principal, error) {
	return a.Verify(token)
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func TestMiddleware(t *testing.T) {
	ledger := setupLedger(t)

	e := echo.New()
	e.Use(Middleware(Config{Checker: ledger, GetUserID: FromHeader("X-User-ID")}))
	e.GET("/premium", okHandler)

	tests := []struct {
		name       string
		userID     string
		wantStatus int
	}{
		{"premium user", "premium_user", http.StatusOK},
		{"free user", "free_user", http.StatusForbidden},
		{"unknown user", "ghost", http.StatusForbidden},
		{"anonymous", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/premium", nil)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuthenticateThenMiddleware(t *testing.T) {
	ledger := setupLedger(t)
	tokens, err := account.NewTokenManager("secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token manager: %v", err)
	}

	e := echo.New()
	e.GET("/premium", okHandler, Authenticate(tokenAuthenticator{tokens}), Middleware(Config{Checker: ledger}))

	premiumToken, _, _ := tokens.Issue(&account.User{ID: "premium_user"})
	freeToken, _, _ := tokens.Issue(&account.User{ID: "free_user"})

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"premium token", "Bearer " + premiumToken, http.StatusOK},
		{"free token", "Bearer " + freeToken, http.StatusForbidden},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"no token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/premium", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

type failingChecker struct{}

func (failingChecker) IsPremium(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestMiddleware_Errors(t *testing.T) {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("UserID", c.Request().Header.Get("X-User-ID"))
			return next(c)
		}
	})
	e.Use(Middleware(Config{Checker: failingChecker{}, GetUserID: FromContext("UserID")}))
	e.GET("/premium", okHandler)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}

func TestMiddleware_PanicsWithoutChecker(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing Checker")
		}
	}()
	Middleware(Config{})
}
