package main

import (
	"context"
	"errors"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/secondchance/internal/config"
	"github.com/mihaimyh/secondchance/pkg/account"
	"github.com/mihaimyh/secondchance/pkg/api"
	"github.com/mihaimyh/secondchance/pkg/entitlement"
	"github.com/mihaimyh/secondchance/pkg/posts"
	"github.com/mihaimyh/secondchance/storage/firestore"
	"github.com/mihaimyh/secondchance/storage/memory"
	"github.com/mihaimyh/secondchance/storage/postgres"
	"github.com/mihaimyh/secondchance/storage/redis"
	"github.com/mihaimyh/secondchance/storage/sqlite"
	"github.com/mihaimyh/secondchance/storage/tiered"
)

// primaryStore is the system of record: it owns accounts, posts and the
// entitlement columns of the users table
type primaryStore interface {
	account.Store
	posts.Store
	entitlement.Storage
}

type stores struct {
	accounts account.Store
	posts    posts.Store
	ledger   entitlement.Storage
	checks   map[string]api.Pinger
	closers  []func() error
}

// Close releases every backend in reverse order of opening
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{checks: make(map[string]api.Pinger)}

	primary, err := openPrimary(ctx, cfg.Storage, s)
	if err != nil {
		return nil, err
	}
	s.accounts = primary
	s.posts = primary
	s.ledger = primary
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("primary storage ready")

	hot, err := openHotTier(ctx, cfg.HotTier, s)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if hot == nil {
		return s, nil
	}

	ts, err := tiered.New(tiered.Config{
		Hot:          hot,
		Cold:         primary,
		AsyncHotSync: cfg.HotTier.AsyncSync,
		AsyncErrorHandler: func(err error) {
			logger.Error().Err(err).Msg("hot tier refresh failed")
		},
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create tiered storage: %w", err)
	}
	// Drain pending refreshes before the hot backend is closed
	s.closers = append(s.closers, ts.Close)
	s.ledger = ts
	logger.Info().Str("backend", cfg.HotTier.Backend).Bool("async", cfg.HotTier.AsyncSync).Msg("hot tier ready")

	return s, nil
}

func openPrimary(ctx context.Context, cfg config.StorageConfig, s *stores) (primaryStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		pgCfg.AutoMigrate = cfg.AutoMigrate
		if cfg.MaxConns > 0 {
			pgCfg.MaxConns = cfg.MaxConns
		}
		if cfg.MaxConnLifetime > 0 {
			pgCfg.MaxConnLifetime = cfg.MaxConnLifetime
		}
		pg, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
		s.checks["postgres"] = pg
		return pg, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.checks["sqlite"] = db
		return db, nil

	default:
		return memory.New(), nil
	}
}

func openHotTier(ctx context.Context, cfg config.HotTierConfig, s *stores) (tiered.HotStore, error) {
	switch cfg.Backend {
	case config.HotRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		rs, err := redis.New(client, redis.Config{EntitlementTTL: cfg.TTL})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create redis storage: %w", err)
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.closers = append(s.closers, rs.Close)
		s.checks["redis"] = rs
		return rs, nil

	case config.HotFirestore:
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		fs, err := firestore.New(client, firestore.Config{EntitlementsCollection: cfg.FirestoreCollection})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("create firestore storage: %w", err)
		}
		s.closers = append(s.closers, fs.Close)
		return fs, nil

	case config.HotMemory:
		return memory.New(), nil

	default:
		return nil, nil
	}
}
