package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidPlan is returned when a checkout names a plan outside the catalog
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrCheckoutCreationFailed is returned when the provider could not create a
	// checkout session. The caller may retry.
	ErrCheckoutCreationFailed = errors.New("checkout session creation failed")

	// ErrInvalidSignature is returned when webhook signature validation fails
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
)
