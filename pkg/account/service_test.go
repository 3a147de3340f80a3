package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/storage/memory"
)

func newService(t *testing.T, store account.Store) *account.Service {
	t.Helper()
	tokens, err := account.NewTokenManager("secret", time.Hour)
	require.NoError(t, err)
	svc, err := account.NewService(&account.Config{
		Store:      store,
		Tokens:     tokens,
		BcryptCost: bcrypt.MinCost,
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	tokens, _ := account.NewTokenManager("secret", time.Hour)

	_, err := account.NewService(nil)
	assert.Error(t, err)
	_, err = account.NewService(&account.Config{Tokens: tokens})
	assert.Error(t, err)
	_, err = account.NewService(&account.Config{Store: memory.New()})
	assert.Error(t, err)
}

func TestService_RegisterAndLogin(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)
	ctx := context.Background()

	session, err := svc.Register(ctx, account.RegisterRequest{
		Email: "  Alice@Example.com ", Password: "hunter22", Name: " Alice ",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.Equal(t, "Alice", session.User.Name)
	assert.False(t, session.User.IsPremium)
	assert.NotEqual(t, "hunter22", session.User.PasswordHash)

	p, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, p.UserID)

	login, err := svc.Login(ctx, "ALICE@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, login.User.ID)

	u, err := svc.GetUser(ctx, session.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestService_Register_Errors(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()

	_, err := svc.Register(ctx, account.RegisterRequest{Email: "a@example.com", Password: "pw", Name: "A"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     account.RegisterRequest
		wantErr error
	}{
		{"duplicate email", account.RegisterRequest{Email: "A@example.com", Password: "pw", Name: "B"}, account.ErrEmailTaken},
		{"missing email", account.RegisterRequest{Password: "pw", Name: "B"}, account.ErrInvalidInput},
		{"missing password", account.RegisterRequest{Email: "b@example.com", Name: "B"}, account.ErrInvalidInput},
		{"blank name", account.RegisterRequest{Email: "b@example.com", Password: "pw", Name: "  "}, account.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Login_InvalidCredentials(t *testing.T) {
	svc := newService(t, memory.New())
	ctx := context.Background()
	_, err := svc.Register(ctx, account.RegisterRequest{Email: "a@example.com", Password: "pw", Name: "A"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@example.com", "wrong")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "pw")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
}

// brokenStore fails every call
type brokenStore struct{}

var errBroken = errors.New("database is down")

func (brokenStore) CreateUser(context.Context, *account.User) error { return errBroken }
func (brokenStore) GetUserByEmail(context.Context, string) (*account.User, error) {
	return nil, errBroken
}
func (brokenStore) GetUserByID(context.Context, string) (*account.User, error) {
	return nil, errBroken
}

func TestService_StoreErrorsAreWrapped(t *testing.T) {
	svc := newService(t, brokenStore{})
	ctx := context.Background()

	_, err := svc.Register(ctx, account.RegisterRequest{Email: "a@example.com", Password: "pw", Name: "A"})
	assert.ErrorIs(t, err, errBroken)

	_, err = svc.Login(ctx, "a@example.com", "pw")
	assert.ErrorIs(t, err, errBroken)
	assert.NotErrorIs(t, err, account.ErrInvalidCredentials)
}
