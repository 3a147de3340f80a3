package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCircuitBreaker(t *testing.T) {
	threshold := 3
	timeout := 30 * time.Second
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var lastState CircuitBreakerState
	cb := NewDefaultCircuitBreaker(threshold, timeout, func(state CircuitBreakerState) {
		lastState = state
	})
	cb.now = func() time.Time { return clock }

	ctx := context.Background()
	fail := func() error { return errors.New("fail") }

	assert.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < threshold-1; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
		assert.Equal(t, CircuitClosed, cb.State())
	}

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, CircuitOpen, lastState)

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock = clock.Add(timeout)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A failed trial call reopens immediately
	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, CircuitOpen, cb.State())

	clock = clock.Add(timeout)
	assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, CircuitClosed, lastState)
}

func TestDefaultCircuitBreaker_HalfOpenAdmitsOneTrialCall(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewDefaultCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return clock }
	ctx := context.Background()

	assert.Error(t, cb.Execute(ctx, func() error { return errors.New("fail") }))
	clock = clock.Add(time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	var concurrent error
	concurrentCalled := false
	err := cb.Execute(ctx, func() error {
		concurrent = cb.Execute(ctx, func() error {
			concurrentCalled = true
			return nil
		})
		return nil
	})
	assert.NoError(t, err)
	assert.ErrorIs(t, concurrent, ErrCircuitOpen)
	assert.False(t, concurrentCalled)
	assert.Equal(t, CircuitClosed, cb.State())

	assert.NoError(t, cb.Execute(ctx, func() error { return nil }))
}

func TestDefaultCircuitBreaker_UserNotFoundIsNotAFailure(t *testing.T) {
	cb := NewDefaultCircuitBreaker(1, time.Minute, nil)

	err := cb.Execute(context.Background(), func() error { return ErrUserNotFound })
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestDefaultCircuitBreaker_Defaults(t *testing.T) {
	cb := NewDefaultCircuitBreaker(0, 0, nil)
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
}
