package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

// Pinger is a dependency checked by the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for the REST handler
type Config struct {
	// Accounts registers and authenticates users (required)
	Accounts *account.Service

	// Posts is the post directory (required)
	Posts *posts.Service

	// Ledger answers subscription status queries (required)
	Ledger *entitlement.Ledger

	// Billing creates checkouts and receives webhooks (required)
	Billing billing.Provider

	// Catalog lists the purchasable plans (default: billing.DefaultCatalog())
	Catalog *billing.Catalog

	// HealthChecks are pinged by /healthz, keyed by component name
	HealthChecks map[string]Pinger

	// Logger receives access and error logs (default: disabled)
	Logger *zerolog.Logger

	// OnError handles errors that do not map to a known status
	// If nil, responds 500 with a generic message
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Accounts == nil {
		return fmt.Errorf("accounts service is required")
	}
	if c.Posts == nil {
		return fmt.Errorf("posts service is required")
	}
	if c.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if c.Billing == nil {
		return fmt.Errorf("billing provider is required")
	}
	return nil
}
