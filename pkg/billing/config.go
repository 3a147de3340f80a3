package billing

import (
	"context"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// WebhookCallback is invoked after a webhook changed a user's entitlement.
// Errors are logged and never fail the delivery.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers should accept
type Config struct {
	// Ledger receives the entitlement transitions derived from webhooks
	Ledger *entitlement.Ledger

	// Catalog is the plan table used by checkout (default: DefaultCatalog)
	Catalog *Catalog

	// WebhookSecret is used to verify incoming webhook requests
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider
	APIKey string

	// WebhookCallback is optional and runs after a successful state change
	WebhookCallback WebhookCallback

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger entitlement.Logger
}
