// Package redis provides a Redis implementation of entitlement.Storage.
// Every transition runs as a Lua script, so replays and concurrent
// deliveries of the same event are applied at most once.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/secondchance/pkg/entitlement"
)

// Storage implements entitlement.Storage using Redis.
//
// Each user is a hash at <prefix>entitlement:<userID>. A set at
// <prefix>subscription:<subscriptionID> indexes the users that were
// activated with a subscription; stale members are pruned lazily by the
// subscription-keyed scripts.
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "secondchance:")
	KeyPrefix string

	// EntitlementTTL is the TTL applied by SetEntitlement (0 = no expiration).
	// Only set it when the store serves as a cache tier.
	EntitlementTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "secondchance:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "secondchance:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

func (s *Storage) loadScripts() {
	// KEYS[1] entitlement hash, KEYS[2] subscription index
	// ARGV[1] user id, ARGV[2] subscription id, ARGV[3] timestamp
	s.scripts["activate"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return -1
		end
		if redis.call('HGET', KEYS[1], 'subscription_id') == ARGV[2] then
			return 0
		end
		redis.call('HSET', KEYS[1],
			'is_premium', '1',
			'subscription_id', ARGV[2],
			'payment_failed_at', '',
			'updated_at', ARGV[3])
		redis.call('SADD', KEYS[2], ARGV[1])
		return 1
	`)

	// KEYS[1] subscription index
	// ARGV[1] subscription id, ARGV[2] timestamp, ARGV[3] entitlement key prefix
	s.scripts["deactivate"] = redis.NewScript(`
		local changed = {}
		for _, uid in ipairs(redis.call('SMEMBERS', KEYS[1])) do
			local key = ARGV[3] .. uid
			local vals = redis.call('HMGET', key, 'subscription_id', 'is_premium')
			if vals[1] ~= ARGV[1] then
				redis.call('SREM', KEYS[1], uid)
			elseif vals[2] == '1' then
				redis.call('HSET', key, 'is_premium', '0', 'updated_at', ARGV[2])
				table.insert(changed, uid)
			end
		end
		return changed
	`)

	// KEYS[1] subscription index
	// ARGV[1] subscription id, ARGV[2] timestamp, ARGV[3] entitlement key prefix
	s.scripts["payment_failed"] = redis.NewScript(`
		local changed = {}
		for _, uid in ipairs(redis.call('SMEMBERS', KEYS[1])) do
			local key = ARGV[3] .. uid
			local vals = redis.call('HMGET', key, 'subscription_id', 'is_premium', 'payment_failed_at')
			if vals[1] ~= ARGV[1] then
				redis.call('SREM', KEYS[1], uid)
			elseif vals[2] == '1' and (not vals[3] or vals[3] == '') then
				redis.call('HSET', key, 'payment_failed_at', ARGV[2], 'updated_at', ARGV[2])
				table.insert(changed, uid)
			end
		end
		return changed
	`)
}

// GetEntitlement implements entitlement.Storage
func (s *Storage) GetEntitlement(ctx context.Context, userID string) (*entitlement.Entitlement, error) {
	fields, err := s.client.HGetAll(ctx, s.entitlementKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	if len(fields) == 0 {
		return nil, entitlement.ErrUserNotFound
	}
	return decodeEntitlement(userID, fields)
}

// SetEntitlement writes a complete entitlement, replacing any stored copy.
// Used to seed users and when the store serves as a hot tier.
func (s *Storage) SetEntitlement(ctx context.Context, ent *entitlement.Entitlement) error {
	if ent == nil || ent.UserID == "" {
		return fmt.Errorf("invalid entitlement")
	}

	key := s.entitlementKey(ent.UserID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, encodeEntitlement(ent))
		if s.config.EntitlementTTL > 0 {
			pipe.Expire(ctx, key, s.config.EntitlementTTL)
		}
		if ent.SubscriptionID != "" {
			pipe.SAdd(ctx, s.subscriptionKey(ent.SubscriptionID), ent.UserID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set entitlement: %w", err)
	}
	return nil
}

// DeleteEntitlement removes a user's entitlement
func (s *Storage) DeleteEntitlement(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.entitlementKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete entitlement: %w", err)
	}
	return nil
}

// ActivateSubscription implements entitlement.Storage
func (s *Storage) ActivateSubscription(ctx context.Context, req *entitlement.ActivationRequest) (bool, error) {
	if req == nil || req.UserID == "" || req.SubscriptionID == "" {
		return false, entitlement.ErrInvalidActivation
	}

	keys := []string{s.entitlementKey(req.UserID), s.subscriptionKey(req.SubscriptionID)}
	result, err := s.scripts["activate"].Run(ctx, s.client, keys,
		req.UserID, req.SubscriptionID, formatTime(req.At)).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to activate subscription: %w", err)
	}

	switch result {
	case -1:
		return false, entitlement.ErrUserNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// DeactivateSubscription implements entitlement.Storage
func (s *Storage) DeactivateSubscription(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.runSubscriptionScript(ctx, "deactivate", subscriptionID, at)
}

// MarkPaymentFailed implements entitlement.Storage
func (s *Storage) MarkPaymentFailed(ctx context.Context, subscriptionID string, at time.Time) ([]string, error) {
	return s.runSubscriptionScript(ctx, "payment_failed", subscriptionID, at)
}

func (s *Storage) runSubscriptionScript(
	ctx context.Context, name, subscriptionID string, at time.Time,
) ([]string, error) {
	keys := []string{s.subscriptionKey(subscriptionID)}
	ids, err := s.scripts[name].Run(ctx, s.client, keys,
		subscriptionID, formatTime(at), s.entitlementKey("")).StringSlice()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to update entitlements: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// entitlementKey generates the Redis key for an entitlement
func (s *Storage) entitlementKey(userID string) string {
	return s.config.KeyPrefix + "entitlement:" + userID
}

// subscriptionKey generates the Redis key for a subscription's user index
func (s *Storage) subscriptionKey(subscriptionID string) string {
	return s.config.KeyPrefix + "subscription:" + subscriptionID
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMilli(), 10)
}

func parseTime(v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func encodeEntitlement(ent *entitlement.Entitlement) map[string]interface{} {
	premium := "0"
	if ent.IsPremium {
		premium = "1"
	}
	failed := ""
	if ent.PaymentFailedAt != nil {
		failed = formatTime(*ent.PaymentFailedAt)
	}
	return map[string]interface{}{
		"is_premium":        premium,
		"subscription_id":   ent.SubscriptionID,
		"payment_failed_at": failed,
		"updated_at":        formatTime(ent.UpdatedAt),
	}
}

func decodeEntitlement(userID string, fields map[string]string) (*entitlement.Entitlement, error) {
	ent := &entitlement.Entitlement{
		UserID:         userID,
		IsPremium:      fields["is_premium"] == "1",
		SubscriptionID: fields["subscription_id"],
	}
	if v := fields["payment_failed_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("invalid payment_failed_at %q: %w", v, err)
		}
		ent.PaymentFailedAt = &t
	}
	if v := fields["updated_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("invalid updated_at %q: %w", v, err)
		}
		ent.UpdatedAt = t
	}
	return ent, nil
}
