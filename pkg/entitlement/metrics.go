package entitlement

import "time"

// Metrics defines the interface for tracking ledger operations and performance.
type Metrics interface {
	// RecordTransition records the outcome of applying a billing event.
	// outcome is one of "applied", "noop" or "error".
	RecordTransition(event EventType, outcome string)

	// RecordPremiumCheck records the duration and result of an IsPremium query.
	RecordPremiumCheck(premium bool, duration time.Duration)

	// RecordCacheHit records a cache hit for a specific cache type (e.g., "entitlement").
	RecordCacheHit(cacheType string)

	// RecordCacheMiss records a cache miss for a specific cache type.
	RecordCacheMiss(cacheType string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordTransition(_ EventType, _ string)                   {}
func (n *NoopMetrics) RecordPremiumCheck(_ bool, _ time.Duration)               {}
func (n *NoopMetrics) RecordCacheHit(_ string)                                  {}
func (n *NoopMetrics) RecordCacheMiss(_ string)                                 {}
func (n *NoopMetrics) RecordStorageOperation(_ string, _ time.Duration, _ error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)                 {}
