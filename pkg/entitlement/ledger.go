package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// PremiumChecker answers whether a user currently holds a premium entitlement.
type PremiumChecker interface {
	IsPremium(ctx context.Context, userID string) (bool, error)
}

const (
	outcomeApplied = "applied"
	outcomeNoop    = "noop"
	outcomeError   = "error"

	cacheTypeEntitlement = "entitlement"
)

// Ledger owns the premium flag and subscription correlation of every user.
// All state changes go through single conditional storage updates, so
// duplicate and stale webhook deliveries settle without locks.
type Ledger struct {
	storage  Storage
	cache    Cache
	cacheTTL time.Duration
	metrics  Metrics
	logger   Logger
	now      func() time.Time

	// generation is bumped before every invalidation; IsPremium only fills
	// the cache when no invalidation happened during its storage read
	generation atomic.Uint64
}

// NewLedger creates a new entitlement ledger with the given storage and configuration
func NewLedger(storage Storage, config *Config) (*Ledger, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}
	if config == nil {
		config = &Config{}
	}

	l := &Ledger{
		metrics: config.Metrics,
		logger:  config.Logger,
		now:     config.Now,
	}
	if l.metrics == nil {
		l.metrics = &NoopMetrics{}
	}
	if l.logger == nil {
		l.logger = &NoopLogger{}
	}
	if l.now == nil {
		l.now = time.Now
	}

	l.cache = NewNoopCache()
	if cc := config.CacheConfig; cc != nil && cc.Enabled {
		l.cacheTTL = cc.EntitlementTTL
		if l.cacheTTL <= 0 {
			l.cacheTTL = 30 * time.Second
		}
		l.cache = NewLRUCache(cc.MaxEntitlements)
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			l.metrics.RecordCircuitBreakerStateChange(string(state))
			l.logger.Warn("circuit breaker state changed", Field{"state", string(state)})
		})
		storage = NewCircuitBreakerStorage(storage, cb)
	}
	l.storage = storage

	return l, nil
}

// ApplyCheckoutCompleted activates the subscription carried by a completed
// checkout. Replays of the same activation, including replays that arrive
// after the subscription was deleted, leave the user untouched.
func (l *Ledger) ApplyCheckoutCompleted(ctx context.Context, act Activation) (*Transition, error) {
	event := EventCheckoutCompleted
	if act.UserID == "" || act.SubscriptionID == "" {
		l.metrics.RecordTransition(event, outcomeError)
		return nil, ErrInvalidActivation
	}

	current, err := l.getEntitlement(ctx, act.UserID)
	if err != nil {
		l.metrics.RecordTransition(event, outcomeError)
		if errors.Is(err, ErrUserNotFound) {
			l.logger.Warn("checkout completed for unknown user",
				Field{"user_id", act.UserID},
				Field{"subscription_id", act.SubscriptionID},
				Field{"event_id", act.EventID},
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to read entitlement: %w", err)
	}

	at := act.OccurredAt
	if at.IsZero() {
		at = l.now()
	}

	start := l.now()
	changed, err := l.storage.ActivateSubscription(ctx, &ActivationRequest{
		UserID:         act.UserID,
		SubscriptionID: act.SubscriptionID,
		At:             at,
	})
	l.metrics.RecordStorageOperation("activate_subscription", l.now().Sub(start), err)
	l.invalidate([]string{act.UserID})
	if err != nil {
		l.metrics.RecordTransition(event, outcomeError)
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to activate subscription: %w", err)
	}

	tr := &Transition{
		Event:          event,
		SubscriptionID: act.SubscriptionID,
		From:           current.State(),
		To:             current.State(),
		Changed:        changed,
	}
	if changed {
		tr.UserIDs = []string{act.UserID}
		tr.To = StatePremium
	}

	l.record(tr, Field{"plan_id", act.PlanID}, Field{"event_id", act.EventID})
	return tr, nil
}

// ApplySubscriptionDeleted revokes premium from the holder of subscriptionID.
// The subscription id stays on the user row. An unknown subscription is a no-op.
func (l *Ledger) ApplySubscriptionDeleted(ctx context.Context, subscriptionID string,
	occurredAt time.Time) (*Transition, error) {
	event := EventSubscriptionDeleted
	if subscriptionID == "" {
		l.metrics.RecordTransition(event, outcomeError)
		return nil, ErrInvalidSubscription
	}
	if occurredAt.IsZero() {
		occurredAt = l.now()
	}

	start := l.now()
	ids, err := l.storage.DeactivateSubscription(ctx, subscriptionID, occurredAt)
	l.metrics.RecordStorageOperation("deactivate_subscription", l.now().Sub(start), err)
	if err != nil {
		l.metrics.RecordTransition(event, outcomeError)
		return nil, fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	tr := &Transition{
		Event:          event,
		SubscriptionID: subscriptionID,
		UserIDs:        ids,
		Changed:        len(ids) > 0,
	}
	if tr.Changed {
		tr.From, tr.To = StatePremium, StateFree
	}
	l.invalidate(ids)
	l.record(tr)
	return tr, nil
}

// ApplyPaymentFailed flags a payment issue on the premium holder of
// subscriptionID. The entitlement state is not changed.
func (l *Ledger) ApplyPaymentFailed(ctx context.Context, subscriptionID string,
	occurredAt time.Time) (*Transition, error) {
	event := EventPaymentFailed
	if subscriptionID == "" {
		l.metrics.RecordTransition(event, outcomeError)
		return nil, ErrInvalidSubscription
	}
	if occurredAt.IsZero() {
		occurredAt = l.now()
	}

	start := l.now()
	ids, err := l.storage.MarkPaymentFailed(ctx, subscriptionID, occurredAt)
	l.metrics.RecordStorageOperation("mark_payment_failed", l.now().Sub(start), err)
	if err != nil {
		l.metrics.RecordTransition(event, outcomeError)
		return nil, fmt.Errorf("failed to mark payment failure: %w", err)
	}

	tr := &Transition{
		Event:          event,
		SubscriptionID: subscriptionID,
		UserIDs:        ids,
		Changed:        len(ids) > 0,
	}
	if tr.Changed {
		tr.From, tr.To = StatePremium, StatePremium
	}
	l.invalidate(ids)
	l.record(tr)
	return tr, nil
}

// IsPremium reports whether userID holds a premium entitlement.
func (l *Ledger) IsPremium(ctx context.Context, userID string) (bool, error) {
	start := l.now()

	if ent, ok := l.cache.GetEntitlement(userID); ok {
		l.metrics.RecordCacheHit(cacheTypeEntitlement)
		l.metrics.RecordPremiumCheck(ent.IsPremium, l.now().Sub(start))
		return ent.IsPremium, nil
	}
	l.metrics.RecordCacheMiss(cacheTypeEntitlement)

	gen := l.generation.Load()
	ent, err := l.getEntitlement(ctx, userID)
	if err != nil {
		return false, err
	}
	if l.generation.Load() == gen {
		l.cache.SetEntitlement(userID, ent, l.cacheTTL)
	}

	l.metrics.RecordPremiumCheck(ent.IsPremium, l.now().Sub(start))
	return ent.IsPremium, nil
}

// GetEntitlement returns the current entitlement of userID, bypassing the cache.
func (l *Ledger) GetEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	return l.getEntitlement(ctx, userID)
}

func (l *Ledger) getEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	start := l.now()
	ent, err := l.storage.GetEntitlement(ctx, userID)
	l.metrics.RecordStorageOperation("get_entitlement", l.now().Sub(start), err)
	return ent, err
}

func (l *Ledger) invalidate(userIDs []string) {
	if len(userIDs) == 0 {
		return
	}
	l.generation.Add(1)
	for _, id := range userIDs {
		l.cache.InvalidateEntitlement(id)
	}
}

func (l *Ledger) record(tr *Transition, extra ...Field) {
	outcome := outcomeNoop
	if tr.Changed {
		outcome = outcomeApplied
	}
	l.metrics.RecordTransition(tr.Event, outcome)

	fields := append([]Field{
		{"event", string(tr.Event)},
		{"subscription_id", tr.SubscriptionID},
		{"user_ids", tr.UserIDs},
		{"from", string(tr.From)},
		{"to", string(tr.To)},
		{"changed", tr.Changed},
	}, extra...)

	if tr.Changed {
		l.logger.Info("entitlement transition applied", fields...)
		return
	}
	l.logger.Debug("entitlement transition was a no-op", fields...)
}
