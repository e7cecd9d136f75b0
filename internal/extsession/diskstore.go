// Package extsession implements the per-user external-service session
// registry (spec.md §4.8): an in-memory registry of live automation
// handles plus an on-disk store of per-user session metadata. Grounded on
// the teacher's own caution around filesystem permissions (internal/auth's
// token hashing never persists raw secrets) and internal/connstate's
// mutex-guarded state shape, generalized to a directory-per-user layout
// with no comparable teacher file to copy from directly.
package extsession

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultTTL is the session lifetime applied by Create when the caller
// doesn't specify one.
const DefaultTTL = 24 * time.Hour

var usernameDisallowed = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeUsername keeps [A-Za-z0-9_-] and lowercases, per spec.md §4.8.
func SanitizeUsername(username string) string {
	return strings.ToLower(usernameDisallowed.ReplaceAllString(username, ""))
}

// Metadata is the on-disk record describing one user's external session.
type Metadata struct {
	CreatedAt        time.Time `json:"created_at"`
	LastUsedAt       time.Time `json:"last_used_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	PhoneFingerprint string    `json:"phone_fingerprint,omitempty"`
}

// HashPhone one-way hashes a phone number for storage; the raw phone is
// never persisted.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// DiskStore manages the <base>/<sanitized_username>/{auth_state,
// metadata.json} layout.
type DiskStore struct {
	baseDir string
}

// NewDiskStore creates a DiskStore rooted at baseDir, creating it with
// owner-only permissions if absent.
func NewDiskStore(baseDir string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("extsession: creating base directory: %w", err)
	}
	return &DiskStore{baseDir: baseDir}, nil
}

func (d *DiskStore) userDir(username string) string {
	return filepath.Join(d.baseDir, SanitizeUsername(username))
}

func (d *DiskStore) metadataPath(username string) string {
	return filepath.Join(d.userDir(username), "metadata.json")
}

// GetAuthStatePath returns the path handed to the automation library for
// persisting its own session state.
func (d *DiskStore) GetAuthStatePath(username string) string {
	return filepath.Join(d.userDir(username), "auth_state")
}

// Exists reports whether a session directory with metadata exists.
func (d *DiskStore) Exists(username string) bool {
	_, err := os.Stat(d.metadataPath(username))
	return err == nil
}

func (d *DiskStore) readMetadata(username string) (*Metadata, error) {
	data, err := os.ReadFile(d.metadataPath(username))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (d *DiskStore) writeMetadata(username string, m *Metadata) error {
	dir := d.userDir(username)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("extsession: creating user directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-metadata-*")
	if err != nil {
		return fmt.Errorf("extsession: creating temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(m); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("extsession: encoding metadata: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("extsession: setting metadata permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, d.metadataPath(username)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("extsession: renaming metadata into place: %w", err)
	}
	return nil
}

// IsValid reports whether a session exists and has not expired.
func (d *DiskStore) IsValid(username string) bool {
	m, err := d.readMetadata(username)
	if err != nil {
		return false
	}
	return time.Now().Before(m.ExpiresAt)
}

// Create writes a new session's metadata, creating the user's directory
// with owner-only permissions. ttl <= 0 uses DefaultTTL.
func (d *DiskStore) Create(username, phoneFingerprint string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return d.writeMetadata(username, &Metadata{
		CreatedAt:        now,
		LastUsedAt:       now,
		ExpiresAt:        now.Add(ttl),
		PhoneFingerprint: phoneFingerprint,
	})
}

// TouchActivity updates last_used_at for an existing session.
func (d *DiskStore) TouchActivity(username string) error {
	m, err := d.readMetadata(username)
	if err != nil {
		return fmt.Errorf("extsession: reading metadata: %w", err)
	}
	m.LastUsedAt = time.Now()
	return d.writeMetadata(username, m)
}

// Clear removes a user's entire session directory.
func (d *DiskStore) Clear(username string) error {
	if err := os.RemoveAll(d.userDir(username)); err != nil {
		return fmt.Errorf("extsession: clearing session directory: %w", err)
	}
	return nil
}

// ListAll returns every sanitized username with a session directory.
func (d *DiskStore) ListAll() ([]string, error) {
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		return nil, fmt.Errorf("extsession: reading base directory: %w", err)
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	return users, nil
}

// CleanupExpired removes every user's session directory whose metadata has
// expired, returning the count removed.
func (d *DiskStore) CleanupExpired() (int, error) {
	users, err := d.ListAll()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, u := range users {
		m, err := d.readMetadata(u)
		if err != nil {
			continue
		}
		if time.Now().After(m.ExpiresAt) {
			if err := d.Clear(u); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
