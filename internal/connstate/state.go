// Package connstate implements the process-wide document-store connection
// lifecycle manager: a small state machine guarded by a single mutex, with a
// background health-check worker and in-process metrics.
//
// The manager never double-checks state outside the lock — "ensure then
// use" is always a single critical section, or a state re-check taken under
// the lock after acquisition, per the concurrency contract this package
// exists to uphold.
package connstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/homestead-systems/assistant-core/internal/telemetry"
)

// Status is the connection lifecycle's tagged state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Error
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrConnectionFailed is returned by EnsureConnected once all retries are
// exhausted. It wraps the last underlying error from the factory or ping.
type ErrConnectionFailed struct {
	Attempts int
	Last     error
}

func (e *ErrConnectionFailed) Error() string {
	return fmt.Sprintf("connstate: failed to connect after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ErrConnectionFailed) Unwrap() error { return e.Last }

// Factory builds a fresh client handle. It is invoked by EnsureConnected
// while holding the manager's lock, so it must not itself call back into
// the manager.
type Factory func(ctx context.Context) (*mongo.Client, error)

// Manager owns the lifecycle of a single *mongo.Client.
type Manager struct {
	mu      sync.Mutex
	status  Status
	client  *mongo.Client
	factory Factory
	metrics Metrics

	healthInterval time.Duration
	pingTimeout    time.Duration

	workerStop   chan struct{}
	workerDone   chan struct{}
	workerActive bool
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithHealthCheckInterval overrides the default 30s health-check cadence.
func WithHealthCheckInterval(d time.Duration) Option {
	return func(m *Manager) { m.healthInterval = d }
}

// WithPingTimeout overrides the default 10s server-selection/ping timeout.
func WithPingTimeout(d time.Duration) Option {
	return func(m *Manager) { m.pingTimeout = d }
}

// New creates a Manager in the Disconnected state. The factory is invoked
// by EnsureConnected, never eagerly.
func New(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		status:         Disconnected,
		factory:        factory,
		healthInterval: 30 * time.Second,
		pingTimeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Status returns the manager's current state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Metrics returns a snapshot of the in-process connection metrics.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.metrics
	snapshot.CurrentState = m.status
	return snapshot
}

// TryAcquire returns the live client only if the manager is currently
// Connected. It never blocks and never triggers a connection attempt.
func (m *Manager) TryAcquire() (*mongo.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != Connected {
		return nil, false
	}
	return m.client, true
}

// AcquireClient returns the live client, establishing a connection first if
// necessary.
func (m *Manager) AcquireClient(ctx context.Context, maxRetries int) (*mongo.Client, error) {
	if err := m.EnsureConnected(ctx, maxRetries); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client, nil
}

// EnsureConnected is idempotent: if the manager is already Connected it
// returns immediately without invoking the factory. Otherwise it attempts a
// connect-and-verify cycle, retrying with exponential backoff
// (1s * 2^attempt) until maxRetries is exhausted.
//
// The whole operation — status check, factory call, ping, status
// transition — happens under the manager's single lock per attempt, so no
// other goroutine can observe or act on a half-updated state.
func (m *Manager) EnsureConnected(ctx context.Context, maxRetries int) error {
	m.mu.Lock()
	if m.status == Connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := m.connectOnce(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return &ErrConnectionFailed{Attempts: maxRetries + 1, Last: lastErr}
}

// connectOnce performs a single connect-and-verify attempt as one critical
// section: re-checks state under the lock (in case a racing caller already
// connected), calls the factory, pings the server, records metrics, and
// transitions state — all before releasing the lock.
func (m *Manager) connectOnce(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == Connected {
		return nil
	}

	m.status = Connecting
	m.metrics.Attempts++
	start := time.Now()

	client, err := m.factory(ctx)
	if err != nil {
		m.status = Error
		m.metrics.Failures++
		m.metrics.LastError = err.Error()
		telemetry.ConnectionStatus.Set(float64(Error))
		return fmt.Errorf("connstate: factory failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		m.status = Error
		m.metrics.Failures++
		m.metrics.LastError = err.Error()
		telemetry.ConnectionStatus.Set(float64(Error))
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("connstate: server-info ping failed: %w", err)
	}

	m.client = client
	m.status = Connected
	m.metrics.CumulativeConnectTime += time.Since(start)
	m.metrics.LastSuccessTime = time.Now()
	m.metrics.CurrentState = Connected
	telemetry.ConnectionStatus.Set(float64(Connected))

	if !m.workerActive {
		m.startHealthCheckLocked()
	}

	return nil
}

// Disconnect signals the health-check worker to stop, closes the
// underlying client, and transitions to Disconnected. Safe to call multiple
// times and from any goroutine.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	stop := m.workerStop
	done := m.workerDone
	active := m.workerActive
	client := m.client
	m.workerActive = false
	m.client = nil
	m.status = Disconnected
	m.mu.Unlock()

	if active && stop != nil {
		close(stop)
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	if client != nil {
		return client.Disconnect(ctx)
	}
	return nil
}

// startHealthCheckLocked starts the background health-check worker. Must be
// called with m.mu held; it is only ever invoked once per Connected
// transition cycle.
func (m *Manager) startHealthCheckLocked() {
	m.workerStop = make(chan struct{})
	m.workerDone = make(chan struct{})
	m.workerActive = true
	go m.healthCheckLoop(m.workerStop, m.workerDone)
}

// healthCheckLoop periodically pings the server. It checks the shutdown
// signal both before and after sleeping so a Disconnect mid-sleep is
// honored promptly, never blocking on a full interval.
func (m *Manager) healthCheckLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(m.healthInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		select {
		case <-stop:
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if !m.workerActive || m.client == nil {
			m.mu.Unlock()
			return
		}
		client := m.client
		pingTimeout := m.pingTimeout
		m.mu.Unlock()

		pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := client.Ping(pingCtx, nil)
		cancel()

		m.mu.Lock()
		if err != nil {
			m.status = Error
			m.metrics.Failures++
			m.metrics.LastError = err.Error()
			m.metrics.CurrentState = Error
			telemetry.ConnectionStatus.Set(float64(Error))
			telemetry.ConnectionPingFailuresTotal.Inc()
		} else {
			m.metrics.LastSuccessTime = time.Now()
		}
		m.mu.Unlock()

		timer.Reset(m.healthInterval)
	}
}

// IsTransient reports whether err looks like a connectivity hiccup that a
// caller's retry loop (rather than a fatal exit) should handle.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.HasErrorLabel("TransientTransactionError") ||
			cmdErr.HasErrorLabel("NetworkError")
	}
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
