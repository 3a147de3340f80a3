package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// Provider is the interface a payment backend implements: it creates hosted
// checkout sessions and turns verified webhooks into ledger transitions.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// CreateCheckout creates a hosted checkout session for the caller. It
	// never writes local state.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// Receive verifies a raw webhook delivery and applies it to the ledger
	Receive(ctx context.Context, payload []byte, signatureHeader string) (*Receipt, error)

	// WebhookHandler returns the HTTP handler that adapts deliveries onto Receive
	WebhookHandler() http.Handler
}

// CheckoutRequest identifies the authenticated buyer and the chosen plan
type CheckoutRequest struct {
	UserID string
	Email  string
	PlanID string
}

// CheckoutSession is a provider-hosted checkout page. It is never persisted.
type CheckoutSession struct {
	ID     string `json:"sessionId"`
	URL    string `json:"url"`
	PlanID string `json:"planId"`
}

// Receipt describes how a verified webhook was handled
type Receipt struct {
	EventID   string
	EventType string

	// Ignored is true for event types the ledger does not handle
	Ignored bool

	// Transition is nil when Ignored is true
	Transition *entitlement.Transition
}
