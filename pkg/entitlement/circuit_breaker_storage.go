package entitlement

import (
	"context"
	"time"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) GetEntitlement(ctx context.Context, userID string) (*Entitlement, error) {
	var ent *Entitlement
	err := s.cb.Execute(ctx, func() error {
		var e error
		ent, e = s.storage.GetEntitlement(ctx, userID)
		return e
	})
	return ent, err
}

func (s *CircuitBreakerStorage) ActivateSubscription(ctx context.Context, req *ActivationRequest) (bool, error) {
	var changed bool
	err := s.cb.Execute(ctx, func() error {
		var e error
		changed, e = s.storage.ActivateSubscription(ctx, req)
		return e
	})
	return changed, err
}

func (s *CircuitBreakerStorage) DeactivateSubscription(ctx context.Context, subscriptionID string,
	at time.Time) ([]string, error) {
	var ids []string
	err := s.cb.Execute(ctx, func() error {
		var e error
		ids, e = s.storage.DeactivateSubscription(ctx, subscriptionID, at)
		return e
	})
	return ids, err
}

func (s *CircuitBreakerStorage) MarkPaymentFailed(ctx context.Context, subscriptionID string,
	at time.Time) ([]string, error) {
	var ids []string
	err := s.cb.Execute(ctx, func() error {
		var e error
		ids, e = s.storage.MarkPaymentFailed(ctx, subscriptionID, at)
		return e
	})
	return ids, err
}
