package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestead-systems/assistant-core/internal/breaker"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := breaker.New("test-dep", 3, 2*time.Second)

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Call(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, breaker.Open, b.State())

	var circuitErr *breaker.ErrCircuitOpen
	err := b.Call(func() error { return nil })
	require.ErrorAs(t, err, &circuitErr)
}

func TestBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	b := breaker.New("test-dep", 1, 10*time.Millisecond)

	require.Error(t, b.Call(func() error { return errors.New("down") }))
	assert.Equal(t, breaker.Open, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, breaker.HalfOpen, b.State())

	require.NoError(t, b.Call(func() error { return nil }))
	assert.Equal(t, breaker.Closed, b.State())
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := breaker.New("test-dep", 1, 10*time.Millisecond)

	require.Error(t, b.Call(func() error { return errors.New("down") }))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, breaker.HalfOpen, b.State())

	require.Error(t, b.Call(func() error { return errors.New("still down") }))
	assert.Equal(t, breaker.Open, b.State())
}

func TestRetryWithBackoff_StopsOnFirstSuccess(t *testing.T) {
	attempts := 0
	err := breaker.RetryWithBackoff(context.Background(), breaker.BackoffPolicy{
		BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Attempts: 5,
	}, func() error {
		attempts++
		if attempts == 2 {
			return nil
		}
		return errors.New("retry me")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := breaker.RetryWithBackoff(ctx, breaker.DefaultBackoffPolicy(), func() error {
		return errors.New("never called successfully")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestInProcessAvailabilityCache_ExpiresAfterTTL(t *testing.T) {
	cache := breaker.NewInProcessAvailabilityCache(10 * time.Millisecond)
	ctx := context.Background()

	ok, err := cache.IsAvailable(ctx, "camera")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.MarkAvailable(ctx, "camera"))
	ok, err = cache.IsAvailable(ctx, "camera")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	ok, err = cache.IsAvailable(ctx, "camera")
	require.NoError(t, err)
	assert.False(t, ok)
}
