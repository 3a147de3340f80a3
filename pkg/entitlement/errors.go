package entitlement

import "errors"

var (
	// ErrUserNotFound is returned when the user row does not exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidActivation is returned when a completed checkout lacks correlation data
	ErrInvalidActivation = errors.New("invalid activation: user id and subscription id are required")

	// ErrInvalidSubscription is returned when a subscription-keyed event has no subscription id
	ErrInvalidSubscription = errors.New("invalid event: subscription id is required")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)
