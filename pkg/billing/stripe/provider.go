package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mihaimyh/secondchance/pkg/billing"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

const (
	providerName           = "stripe"
	tracerName             = "github.com/mihaimyh/secondchance/pkg/billing/stripe"
	defaultCheckoutTimeout = 10 * time.Second
	defaultTolerance       = 5 * time.Minute
	maxWebhookBodyBytes    = 256 * 1024
	signatureHeader        = "Stripe-Signature"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Ledger, Catalog, secrets, etc.)

	// SuccessURL and CancelURL are where the hosted checkout redirects
	SuccessURL string
	CancelURL  string

	// CheckoutTimeout bounds the checkout session API call (default: 10s)
	CheckoutTimeout time.Duration

	// SignatureTolerance is the maximum age of a webhook signature (default: 5m)
	SignatureTolerance time.Duration

	// TracerProvider is optional (default: the global otel provider)
	TracerProvider trace.TracerProvider
}

// checkoutSessionAPI is the subset of the Stripe client used for checkout
type checkoutSessionAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// Provider implements billing.Provider for Stripe
type Provider struct {
	ledger          *entitlement.Ledger
	catalog         *billing.Catalog
	sessions        checkoutSessionAPI
	webhookSecret   string
	successURL      string
	cancelURL       string
	checkoutTimeout time.Duration
	tolerance       time.Duration
	callback        billing.WebhookCallback
	metrics         billing.Metrics
	logger          entitlement.Logger
	tracer          trace.Tracer
	now             func() time.Time
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Ledger == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	webhookSecret := strings.TrimSpace(config.WebhookSecret)
	if apiKey == "" || webhookSecret == "" {
		return nil, billing.ErrProviderNotConfigured
	}
	if config.SuccessURL == "" || config.CancelURL == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	p := &Provider{
		ledger:          config.Ledger,
		catalog:         config.Catalog,
		sessions:        stripe.NewClient(apiKey).V1CheckoutSessions,
		webhookSecret:   webhookSecret,
		successURL:      config.SuccessURL,
		cancelURL:       config.CancelURL,
		checkoutTimeout: config.CheckoutTimeout,
		tolerance:       config.SignatureTolerance,
		callback:        config.WebhookCallback,
		metrics:         config.Metrics,
		logger:          config.Logger,
		now:             time.Now,
	}

	if p.catalog == nil {
		p.catalog = billing.DefaultCatalog()
	}
	if p.checkoutTimeout <= 0 {
		p.checkoutTimeout = defaultCheckoutTimeout
	}
	if p.tolerance <= 0 {
		p.tolerance = defaultTolerance
	}
	if p.metrics == nil {
		p.metrics = &billing.NoopMetrics{}
	}
	if p.logger == nil {
		p.logger = &entitlement.NoopLogger{}
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	p.tracer = tp.Tracer(tracerName)

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// Catalog returns the plan catalog used for checkout
func (p *Provider) Catalog() *billing.Catalog {
	return p.catalog
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return http.HandlerFunc(p.handleWebhook)
}

var _ billing.Provider = (*Provider)(nil)
