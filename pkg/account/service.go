package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// Config holds account service configuration
type Config struct {
	// Store persists accounts (required)
	Store Store

	// Tokens issues session tokens (required)
	Tokens *TokenManager

	// BcryptCost is the password hashing cost (default: 10)
	BcryptCost int

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Service registers and authenticates accounts
type Service struct {
	store  Store
	tokens *TokenManager
	cost   int
	logger entitlement.Logger
	now    func() time.Time
}

// NewService creates a new account service
func NewService(config *Config) (*Service, error) {
	if config == nil || config.Store == nil {
		return nil, errors.New("account store is required")
	}
	if config.Tokens == nil {
		return nil, errors.New("token manager is required")
	}

	s := &Service{
		store:  config.Store,
		tokens: config.Tokens,
		cost:   config.BcryptCost,
		logger: config.Logger,
		now:    config.Now,
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.logger == nil {
		s.logger = &entitlement.NoopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Register creates a free account and returns a session for it
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)
	if email == "" || req.Password == "" || name == "" {
		return nil, ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         name,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("account registered", entitlement.Field{Key: "user_id", Value: user.ID})
	return s.newSession(user)
}

// Login verifies the credentials and returns a session carrying the
// user's current premium flag
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.newSession(user)
}

// Authenticate verifies a session token
func (s *Service) Authenticate(token string) (*Principal, error) {
	return s.tokens.Verify(token)
}

// GetUser returns the account with the given id
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.store.GetUserByID(ctx, userID)
}

func (s *Service) newSession(user *User) (*Session, error) {
	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
