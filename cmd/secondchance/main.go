// Command secondchance serves the Second Chances REST API: accounts, posts,
// premium-gated responses and Stripe subscriptions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/secondchance/internal/config"
	"github.com/mihaimyh/secondchance/internal/telemetry"
	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/api"
	"github.com/mihaimyh/secondchance/pkg/billing"
	billingprom "github.com/mihaimyh/secondchance/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/secondchance/pkg/billing/stripe"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	entzerolog "github.com/mihaimyh/secondchance/pkg/entitlement/logger/zerolog"
	entprom "github.com/mihaimyh/secondchance/pkg/entitlement/metrics/prometheus"
	"github.com/mihaimyh/secondchance/pkg/posts"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	envFile := flag.String("env-file", ".env", "path to .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "secondchance: %v\n", err)
		os.Exit(1)
	}
}

//nolint:funlen // bootstrap code is inherently verbose
func run(configPath, envFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	logger.Info().
		Str("name", cfg.App.Name).
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("starting application")

	tel, err := telemetry.New(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to initialize telemetry, tracing disabled")
		tel = nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var (
		ledgerMetrics  entitlement.Metrics = &entitlement.NoopMetrics{}
		billingMetrics billing.Metrics     = &billing.NoopMetrics{}
	)
	if cfg.Metrics.Enabled {
		ledgerMetrics = entprom.NewMetrics(reg, cfg.Metrics.Namespace)
		billingMetrics = billingprom.NewMetrics(reg, cfg.Metrics.Namespace)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("storage close error")
		}
	}()

	coreLogger := entzerolog.NewLogger(&logger)

	ledger, err := entitlement.NewLedger(st.ledger, &entitlement.Config{
		CacheConfig: &entitlement.CacheConfig{
			Enabled:         cfg.Ledger.CacheEnabled,
			EntitlementTTL:  cfg.Ledger.CacheTTL,
			MaxEntitlements: cfg.Ledger.CacheSize,
		},
		CircuitBreakerConfig: &entitlement.CircuitBreakerConfig{
			Enabled:          cfg.Ledger.BreakerEnabled,
			FailureThreshold: cfg.Ledger.BreakerThreshold,
			ResetTimeout:     cfg.Ledger.BreakerReset,
		},
		Metrics: ledgerMetrics,
		Logger:  coreLogger.With("ledger"),
	})
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}

	tokens, err := account.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("create token manager: %w", err)
	}
	accounts, err := account.NewService(&account.Config{
		Store:      st.accounts,
		Tokens:     tokens,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     coreLogger.With("account"),
	})
	if err != nil {
		return fmt.Errorf("create account service: %w", err)
	}

	directory, err := posts.NewService(&posts.Config{
		Store:   st.posts,
		Premium: ledger,
		Logger:  coreLogger.With("posts"),
	})
	if err != nil {
		return fmt.Errorf("create post service: %w", err)
	}

	catalog := billing.DefaultCatalog()
	stripeCfg := stripe.Config{
		Config: billing.Config{
			Ledger:          ledger,
			Catalog:         catalog,
			APIKey:          cfg.Stripe.SecretKey,
			WebhookSecret:   cfg.Stripe.WebhookSecret,
			WebhookCallback: webhookAuditLog(logger),
			Metrics:         billingMetrics,
			Logger:          coreLogger.With("stripe"),
		},
		SuccessURL:      cfg.Stripe.SuccessURL(),
		CancelURL:       cfg.Stripe.CancelURL(),
		CheckoutTimeout: cfg.Stripe.CheckoutTimeout,
	}
	if tel != nil {
		stripeCfg.TracerProvider = tel.TracerProvider
	}
	provider, err := stripe.NewProvider(stripeCfg)
	if err != nil {
		return fmt.Errorf("create stripe provider: %w", err)
	}

	handler, err := api.NewHandler(api.Config{
		Accounts:     accounts,
		Posts:        directory,
		Ledger:       ledger,
		Billing:      provider,
		Catalog:      catalog,
		HealthChecks: st.checks,
		Logger:       &logger,
	})
	if err != nil {
		return fmt.Errorf("create api handler: %w", err)
	}

	router := chi.NewRouter()
	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	router.Mount("/", handler)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	if tel != nil {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown error")
		}
	}

	logger.Info().Msg("application stopped")
	return runErr
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "secondchance").Logger()
}

// webhookAuditLog records every entitlement change caused by a webhook
func webhookAuditLog(logger zerolog.Logger) billing.WebhookCallback {
	return func(_ context.Context, event billing.WebhookEvent) error {
		logger.Info().
			Str("event_id", event.EventID).
			Str("event_type", event.EventType).
			Str("subscription_id", event.SubscriptionID).
			Strs("user_ids", event.UserIDs).
			Str("from", event.PreviousState).
			Str("to", event.NewState).
			Msg("entitlement changed by webhook")
		return nil
	}
}
