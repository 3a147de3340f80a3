package account

import "context"

// Store persists accounts. Implementations return ErrEmailTaken on a
// duplicate email and ErrUserNotFound when no row matches.
type Store interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
}
