package entitlement

import "time"

// State is a user's entitlement state
type State string

const (
	// StateFree is the default state of every account
	StateFree State = "free"
	// StatePremium grants access to premium-only features
	StatePremium State = "premium"
)

// EventType identifies a billing event the ledger knows how to apply
type EventType string

const (
	// EventCheckoutCompleted activates a subscription
	EventCheckoutCompleted EventType = "checkout.session.completed"
	// EventSubscriptionDeleted revokes premium for the subscription's holder
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	// EventPaymentFailed flags a payment issue without changing state
	EventPaymentFailed EventType = "invoice.payment_failed"
)

// Entitlement is the ledger's view of a user's billing state
type Entitlement struct {
	UserID    string
	IsPremium bool

	// SubscriptionID correlates the user with the provider-side subscription.
	// Empty when the user never completed a checkout. It is retained after
	// the subscription is deleted.
	SubscriptionID string

	// PaymentFailedAt is set when a renewal payment failed and is cleared
	// by the next activation
	PaymentFailedAt *time.Time

	UpdatedAt time.Time
}

// State returns the entitlement state derived from the premium flag
func (e *Entitlement) State() State {
	if e == nil || !e.IsPremium {
		return StateFree
	}
	return StatePremium
}

// HasPaymentIssue reports whether a payment failure is pending
func (e *Entitlement) HasPaymentIssue() bool {
	return e != nil && e.IsPremium && e.PaymentFailedAt != nil
}

// Activation carries the correlation data of a completed checkout
type Activation struct {
	UserID         string
	SubscriptionID string
	PlanID         string
	EventID        string
	OccurredAt     time.Time
}

// Transition describes the effect of applying a single billing event
type Transition struct {
	Event          EventType
	SubscriptionID string

	// UserIDs lists the users whose row was modified (empty when Changed is false)
	UserIDs []string

	// From and To are left empty when a subscription-keyed event matched no row
	From    State
	To      State
	Changed bool
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	// Enabled determines if caching is active
	Enabled bool

	// EntitlementTTL is the TTL for cached entitlements (default: 30 seconds)
	EntitlementTTL time.Duration

	// MaxEntitlements is the maximum number of entitlements to cache (default: 1000)
	MaxEntitlements int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds ledger configuration
type Config struct {
	// CacheConfig configures the read-through cache used by IsPremium
	CacheConfig *CacheConfig

	// CircuitBreakerConfig configures the circuit breaker around storage
	CircuitBreakerConfig *CircuitBreakerConfig

	// Metrics is used for tracking ledger operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}
