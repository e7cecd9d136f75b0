package extsession_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestead-systems/assistant-core/internal/extsession"
)

type fakeService struct {
	closed bool
	live   bool
}

func (f *fakeService) IsLive() bool { return f.live }
func (f *fakeService) Close() error { f.closed = true; return nil }

func newTestRegistry(t *testing.T) (*extsession.Registry, *extsession.DiskStore, map[string]*fakeService) {
	store, err := extsession.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	created := make(map[string]*fakeService)
	reg := extsession.NewRegistry(store, func(authStatePath string) (extsession.LiveService, error) {
		svc := &fakeService{live: true}
		created[authStatePath] = svc
		return svc, nil
	})
	return reg, store, created
}

func TestRegistry_GetIsIdempotentPerUsername(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	a, err := reg.Get("Alice")
	require.NoError(t, err)
	b, err := reg.Get("alice")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistry_DistinctUsernamesGetDistinctInstances(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	a, err := reg.Get("alice")
	require.NoError(t, err)
	b, err := reg.Get("bob")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.ElementsMatch(t, []string{"alice", "bob"}, reg.ActiveUsers())
}

func TestRegistry_ClearClosesLiveServiceAndDisk(t *testing.T) {
	reg, store, _ := newTestRegistry(t)

	require.NoError(t, store.Create("alice", "", time.Hour))
	svc, err := reg.Get("alice")
	require.NoError(t, err)

	require.NoError(t, reg.Clear("alice"))
	assert.True(t, svc.(*fakeService).closed)
	assert.False(t, store.Exists("alice"))
	assert.Empty(t, reg.ActiveUsers())
}

func TestDiskStore_SanitizeUsername(t *testing.T) {
	assert.Equal(t, "johndoe123", extsession.SanitizeUsername("John.Doe!123"))
}

func TestDiskStore_IsValid_FalseAfterExpiry(t *testing.T) {
	store, err := extsession.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Create("alice", "", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, store.IsValid("alice"))
}

func TestDiskStore_CleanupExpiredRemovesOnlyExpired(t *testing.T) {
	store, err := extsession.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Create("alice", "", time.Millisecond))
	require.NoError(t, store.Create("bob", "", time.Hour))
	time.Sleep(5 * time.Millisecond)

	removed, err := store.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, store.Exists("alice"))
	assert.True(t, store.Exists("bob"))
}

func TestDiskStore_TouchActivityUpdatesLastUsed(t *testing.T) {
	dir := t.TempDir()
	store, err := extsession.NewDiskStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create("alice", "", time.Hour))

	readMeta := func() extsession.Metadata {
		data, err := os.ReadFile(filepath.Join(dir, "alice", "metadata.json"))
		require.NoError(t, err)
		var meta extsession.Metadata
		require.NoError(t, json.Unmarshal(data, &meta))
		return meta
	}
	before := readMeta()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.TouchActivity("alice"))
	assert.True(t, readMeta().LastUsedAt.After(before.LastUsedAt))
}
