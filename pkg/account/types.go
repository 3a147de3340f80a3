package account

import "time"

// User is a registered account
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string

	// IsPremium and SubscriptionID are owned by the entitlement ledger.
	// The account store inserts them with their defaults and never updates them.
	IsPremium      bool
	SubscriptionID string

	CreatedAt time.Time
}

// RegisterRequest carries the data needed to create an account
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
}

// Session is the result of a successful registration or login
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *User
}

// Principal identifies the authenticated caller of a request
type Principal struct {
	UserID string
	Email  string
}
