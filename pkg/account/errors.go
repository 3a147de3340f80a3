package account

import "errors"

var (
	// ErrEmailTaken is returned when registering an email that already has an account
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned when the email or password does not match
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid is returned when a session token is malformed, expired or forged
	ErrTokenInvalid = errors.New("invalid or expired token")

	// ErrUserNotFound is returned by stores when no account matches
	ErrUserNotFound = errors.New("account not found")

	// ErrInvalidInput is returned when required registration fields are missing
	ErrInvalidInput = errors.New("email, password and name are required")
)
