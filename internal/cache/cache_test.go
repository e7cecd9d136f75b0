package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestead-systems/assistant-core/internal/cache"
)

func TestInsertThenLookup_Hits(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	key := cache.Key("abc123", "items", "")
	require.NoError(t, c.Insert(key, "items", "", []byte("payload")))

	got, ok := c.Lookup(key, "")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
}

func TestLookup_RehydratesFromDiskAfterMemoryMiss(t *testing.T) {
	dir := t.TempDir()
	c1, err := cache.New(dir, time.Hour)
	require.NoError(t, err)
	key := cache.Key("abc123", "recipes", "fp1")
	require.NoError(t, c1.Insert(key, "recipes", "fp1", []byte("recipe-json")))

	c2, err := cache.New(dir, time.Hour)
	require.NoError(t, err)
	got, ok := c2.Lookup(key, "fp1")
	require.True(t, ok)
	assert.Equal(t, []byte("recipe-json"), got)
}

func TestLookup_MissesOnFingerprintMismatch(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	key := cache.Key("abc123", "recipes", "fp1")
	require.NoError(t, c.Insert(key, "recipes", "fp1", []byte("recipe-json")))

	_, ok := c.Lookup(key, "fp2")
	assert.False(t, ok)
}

func TestLookup_MissesOnExpiry(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Millisecond)
	require.NoError(t, err)

	key := cache.Key("abc123", "items", "")
	require.NoError(t, c.Insert(key, "items", "", []byte("payload")))

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Lookup(key, "")
	assert.False(t, ok)
}

func TestInvalidateForUser_ClearsMatchingEntriesAndReportsCount(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	userKey := cache.Key("user42-hash", "recipes", "fp1")
	otherKey := cache.Key("user99-hash", "recipes", "fp1")
	require.NoError(t, c.Insert(userKey, "recipes", "fp1", []byte("a")))
	require.NoError(t, c.Insert(otherKey, "recipes", "fp1", []byte("b")))

	count, err := c.InvalidateForUser("user42-hash")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, ok := c.Lookup(userKey, "fp1")
	assert.False(t, ok)

	_, ok = c.Lookup(otherKey, "fp1")
	assert.True(t, ok)
}

func TestCleanupExpired_RemovesExpiredAndInvalidatedEntries(t *testing.T) {
	c, err := cache.New(t.TempDir(), time.Millisecond)
	require.NoError(t, err)

	key := cache.Key("abc123", "items", "")
	require.NoError(t, c.Insert(key, "items", "", []byte("payload")))
	time.Sleep(5 * time.Millisecond)

	removed, err := c.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := cache.Fingerprint("peanuts", "vegan", "halal")
	b := cache.Fingerprint("halal", "peanuts", "vegan")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}
