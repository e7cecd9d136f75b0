package connstate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/homestead-systems/assistant-core/internal/connstate"
)

var errFactoryDown = errors.New("dependency unreachable")

func failingFactory(calls *int) connstate.Factory {
	return func(ctx context.Context) (*mongo.Client, error) {
		*calls++
		return nil, errFactoryDown
	}
}

func TestEnsureConnected_RetriesThenFails(t *testing.T) {
	var calls int
	mgr := connstate.New(failingFactory(&calls))

	err := mgr.EnsureConnected(context.Background(), 2)
	require.Error(t, err)

	var connErr *connstate.ErrConnectionFailed
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts) // initial attempt + 2 retries
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errFactoryDown)
	assert.Equal(t, connstate.Error, mgr.Status())
}

func TestEnsureConnected_RespectsContextCancellation(t *testing.T) {
	var calls int
	mgr := connstate.New(failingFactory(&calls))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// First attempt still runs (no pre-sleep on attempt 0); only the
	// inter-attempt backoff observes cancellation.
	err := mgr.EnsureConnected(ctx, 5)
	require.Error(t, err)
}

func TestTryAcquire_FalseWhenNotConnected(t *testing.T) {
	var calls int
	mgr := connstate.New(failingFactory(&calls))

	client, ok := mgr.TryAcquire()
	assert.False(t, ok)
	assert.Nil(t, client)
}

func TestDisconnect_IdempotentWhenNeverConnected(t *testing.T) {
	var calls int
	mgr := connstate.New(failingFactory(&calls))

	require.NoError(t, mgr.Disconnect(context.Background()))
	require.NoError(t, mgr.Disconnect(context.Background()))
	assert.Equal(t, connstate.Disconnected, mgr.Status())
}

func TestMetrics_RecordFailuresAcrossAttempts(t *testing.T) {
	var calls int
	mgr := connstate.New(failingFactory(&calls))

	_ = mgr.EnsureConnected(context.Background(), 1)

	m := mgr.Metrics()
	assert.Equal(t, 2, m.Attempts)
	assert.Equal(t, 2, m.Failures)
	assert.Equal(t, errFactoryDown.Error(), m.LastError)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", connstate.Disconnected.String())
	assert.Equal(t, "connected", connstate.Connected.String())
	assert.Equal(t, "error", connstate.Error.String())
}

func TestBackoffDoesNotBlockBeyondExpectedWindow(t *testing.T) {
	var calls int
	mgr := connstate.New(failingFactory(&calls))

	start := time.Now()
	_ = mgr.EnsureConnected(context.Background(), 1) // one retry: ~1s backoff
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 1*time.Second)
	assert.Less(t, elapsed, 3*time.Second)
}
