package billing

import "time"

// WebhookEvent contains information about a webhook that changed entitlements.
// It is passed to the WebhookCallback after storage has been updated.
type WebhookEvent struct {
	// EventID is the provider's event identifier
	EventID string

	// EventType is the provider-specific event type
	EventType string

	// Provider is the billing provider name ("stripe")
	Provider string

	// SubscriptionID is the provider subscription the event refers to
	SubscriptionID string

	// UserIDs lists the users whose entitlement changed
	UserIDs []string

	// PreviousState and NewState are the entitlement states around the change
	PreviousState string
	NewState      string

	// EventTimestamp is when the event occurred (from provider)
	EventTimestamp time.Time

	// Metadata contains provider-specific additional data
	Metadata map[string]string
}
