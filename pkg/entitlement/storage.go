package entitlement

import (
	"context"
	"time"
)

// Storage defines the persistence contract of the ledger.
// Every mutating method is a single conditional update scoped to the
// affected rows; implementations must not read-then-write outside a
// transaction.
type Storage interface {
	// GetEntitlement returns the user's entitlement or ErrUserNotFound
	GetEntitlement(ctx context.Context, userID string) (*Entitlement, error)

	// ActivateSubscription marks the user premium with the given subscription id,
	// clearing any payment failure marker. It only writes when the stored
	// subscription id differs from req.SubscriptionID, so replays of the same
	// activation (including stale replays after the subscription was deleted)
	// leave the row untouched. Returns whether the row changed, or
	// ErrUserNotFound.
	ActivateSubscription(ctx context.Context, req *ActivationRequest) (bool, error)

	// DeactivateSubscription clears the premium flag on every premium row holding
	// subscriptionID. The subscription id itself is retained. Returns the ids of
	// the modified users; no match is not an error.
	DeactivateSubscription(ctx context.Context, subscriptionID string, at time.Time) ([]string, error)

	// MarkPaymentFailed records a payment failure on premium rows holding
	// subscriptionID that do not already carry one. Returns the ids of the
	// modified users.
	MarkPaymentFailed(ctx context.Context, subscriptionID string, at time.Time) ([]string, error)
}

// ActivationRequest is the storage-level form of an Activation
type ActivationRequest struct {
	UserID         string
	SubscriptionID string
	At             time.Time
}
