package extsession

import (
	"fmt"
	"sync"
)

// LiveService is the automation-library handle bound to one user's
// on-disk session. The ordering orchestrator (C9) checks IsLive before
// reusing a cached instance and calls Close during lifecycle teardown.
type LiveService interface {
	IsLive() bool
	Close() error
}

// Factory constructs a new LiveService bound to authStatePath.
type Factory func(authStatePath string) (LiveService, error)

// Registry is the in-memory, process-wide map of live service instances
// keyed by application username, serialized by a single lock per spec.md
// §4.8's invariant that two distinct usernames never receive the same
// instance and no instance is shared across usernames.
type Registry struct {
	mu      sync.Mutex
	store   *DiskStore
	factory Factory
	live    map[string]LiveService
}

// NewRegistry builds a Registry backed by store, creating new LiveServices
// via factory.
func NewRegistry(store *DiskStore, factory Factory) *Registry {
	return &Registry{store: store, factory: factory, live: make(map[string]LiveService)}
}

// Get returns the existing service for username or creates one bound to
// the user's on-disk session path. Idempotent: repeated calls for the same
// username return the same instance until Clear.
func (r *Registry) Get(username string) (LiveService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := SanitizeUsername(username)
	if svc, ok := r.live[key]; ok {
		return svc, nil
	}

	svc, err := r.factory(r.store.GetAuthStatePath(username))
	if err != nil {
		return nil, fmt.Errorf("extsession: creating service for %q: %w", key, err)
	}
	r.live[key] = svc
	return svc, nil
}

// Clear removes and closes the live service for username, if any, then
// clears its on-disk session. Both happen under the registry lock, per
// spec.md §4.8's lifecycle-coupling requirement for logout.
func (r *Registry) Clear(username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := SanitizeUsername(username)
	if svc, ok := r.live[key]; ok {
		delete(r.live, key)
		if err := svc.Close(); err != nil {
			return fmt.Errorf("extsession: closing live service for %q: %w", key, err)
		}
	}
	return r.store.Clear(username)
}

// ActiveUsers lists the sanitized usernames with a live in-memory service.
func (r *Registry) ActiveUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.live))
	for k := range r.live {
		users = append(users, k)
	}
	return users
}
