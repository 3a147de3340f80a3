package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/storage/memory"
)

// setupLedger creates a ledger with a free user and a premium user
func setupLedger(t *testing.T) *entitlement.Ledger {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	for _, id := range []string{"free_user", "premium_user"} {
		require.NoError(t, store.CreateUser(ctx, &account.User{ID: id, Email: id + "@example.com", Name: id}))
	}
	ledger, err := entitlement.NewLedger(store, nil)
	require.NoError(t, err)
	_, err = ledger.ApplyCheckoutCompleted(ctx, entitlement.Activation{UserID: "premium_user", SubscriptionID: "sub_1"})
	require.NoError(t, err)
	return ledger
}

func setupTokens(t *testing.T) *account.TokenManager {
	t.Helper()
	tokens, err := account.NewTokenManager("secret", time.Hour)
	require.NoError(t, err)
	return tokens
}

// tokenAuthenticator adapts a TokenManager to Authenticator
type tokenAuthenticator struct{ *account.TokenManager }

func (a tokenAuthenticator) Authenticate(token string) (*account.Principal, error) {
	return a.Verify(token)
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
})

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, BearerToken(r), "header %q", tt.header)
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := setupTokens(t)
	token, _, err := tokens.Issue(&account.User{ID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	var seen *account.Principal
	handler := Authenticate(AuthConfig{Authenticator: tokenAuthenticator{tokens}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = PrincipalFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "u1", seen.UserID)
			} else {
				assert.Nil(t, seen)
				assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestAuthenticate_PanicsWithoutAuthenticator(t *testing.T) {
	assert.Panics(t, func() { Authenticate(AuthConfig{}) })
}

func TestRequirePremium(t *testing.T) {
	ledger := setupLedger(t)
	handler := RequirePremium(PremiumConfig{Checker: ledger, GetUserID: FromHeader("X-User-ID")})(okHandler)

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
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequirePremium_AfterAuthenticate(t *testing.T) {
	ledger := setupLedger(t)
	tokens := setupTokens(t)
	handler := Authenticate(AuthConfig{Authenticator: tokenAuthenticator{tokens}})(
		RequirePremium(PremiumConfig{Checker: ledger})(okHandler))

	token, _, err := tokens.Issue(&account.User{ID: "premium_user"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

type failingChecker struct{}

func (failingChecker) IsPremium(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRequirePremium_Errors(t *testing.T) {
	t.Run("default error handler", func(t *testing.T) {
		handler := RequirePremium(PremiumConfig{Checker: failingChecker{}, GetUserID: FromHeader("X-User-ID")})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", "u1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("custom handlers", func(t *testing.T) {
		var gotErr error
		handler := RequirePremium(PremiumConfig{
			Checker:   failingChecker{},
			GetUserID: FromContext("uid"),
			OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
				gotErr = err
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		})(okHandler)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), ContextKey("uid"), "u1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Error(t, gotErr)
	})

	t.Run("panics without checker", func(t *testing.T) {
		assert.Panics(t, func() { RequirePremium(PremiumConfig{}) })
	})
}
