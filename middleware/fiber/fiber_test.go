package fiber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

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

func okHandler(c *fiber.Ctx) error {
	return c.SendString("success")
}

func TestMiddleware(t *testing.T) {
	ledger := setupLedger(t)

	app := fiber.New()
	app.Use(Middleware(Config{Checker: ledger, GetUserID: FromHeader("X-User-ID")}))
	app.Get("/premium", okHandler)

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
			req := httptest.NewRequest("GET", "/premium", http.NoBody)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
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

	app := fiber.New()
	app.Get("/premium", Authenticate(tokenAuthenticator{tokens}), Middleware(Config{Checker: ledger}), okHandler)

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
			req := httptest.NewRequest("GET", "/premium", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus == http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != "success" {
					t.Errorf("Expected 'success', got %s", string(body))
				}
			}
		})
	}
}

type failingChecker struct{}

func (failingChecker) IsPremium(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestMiddleware_CustomError(t *testing.T) {
	var gotErr error
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("UserID", c.Get("X-User-ID"))
		return c.Next()
	})
	app.Use(Middleware(Config{
		Checker:   failingChecker{},
		GetUserID: FromLocals("UserID"),
		OnError: func(c *fiber.Ctx, err error) error {
			gotErr = err
			return c.Status(fiber.StatusServiceUnavailable).SendString("try later")
		},
	}))
	app.Get("/premium", okHandler)

	req := httptest.NewRequest("GET", "/premium", http.NoBody)
	req.Header.Set("X-User-ID", "u1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
	if gotErr == nil {
		t.Error("Expected OnError to receive the checker error")
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
