// Package document defines the persistent document shapes shared by the
// core subsystems and the thin collection handles used to read and write
// them through the transaction runtime (internal/txn).
package document

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AuthProvider identifies how a User authenticates.
type AuthProvider string

const (
	AuthProviderPassword AuthProvider = "password"
)

// OAuthProviderName builds the "oauth:<name>" form spec.md §3 requires.
func OAuthProviderName(name string) AuthProvider {
	return AuthProvider("oauth:" + name)
}

// OAuthAccount links an external identity to a User.
type OAuthAccount struct {
	Provider       string                 `bson:"provider"`
	ProviderUserID string                 `bson:"provider_user_id"`
	LinkedAt       time.Time              `bson:"linked_at"`
	ProfileBlob    map[string]interface{} `bson:"profile_blob,omitempty"`
}

// Security holds the mutable login-defense fields of a User.
type Security struct {
	FailedLoginAttempts int        `bson:"failed_login_attempts"`
	LockedUntil         *time.Time `bson:"locked_until,omitempty"`
	LastLogin           *time.Time `bson:"last_login,omitempty"`
	LastPasswordChange  *time.Time `bson:"last_password_change,omitempty"`
	PasswordResetToken  string     `bson:"password_reset_token,omitempty"`
	PasswordResetExpiry *time.Time `bson:"password_reset_expires,omitempty"`
}

// User is the unique-by-email account record (spec.md §3).
type User struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Email         string             `bson:"email"`
	EmailVerified bool               `bson:"email_verified"`
	AuthProvider  AuthProvider       `bson:"auth_provider"`
	PasswordHash  *string            `bson:"password_hash"`
	OAuthAccounts []OAuthAccount     `bson:"oauth_accounts,omitempty"`
	Profile       map[string]interface{} `bson:"profile,omitempty"`
	Security      Security           `bson:"security"`
	IsOnboarded   bool               `bson:"is_onboarded"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

// Session is an issued token pair's server-side record (spec.md §3).
type Session struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	UserID         primitive.ObjectID `bson:"user_id"`
	AccessTokenJTI string             `bson:"access_token_jti"`
	RefreshTokenJTI string            `bson:"refresh_token_jti"`
	DeviceInfo     string             `bson:"device_info,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	ExpiresAt      time.Time          `bson:"expires_at"`
	LastActivity   time.Time          `bson:"last_activity"`
	Revoked        bool               `bson:"revoked"`
}

// Usable reports whether the session may still authorize a request.
func (s Session) Usable(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// AuditEventType enumerates the append-only audit trail's event kinds.
type AuditEventType string

const (
	EventUserRegistered        AuditEventType = "user_registered"
	EventLoginSuccess          AuditEventType = "login_success"
	EventLoginFailed           AuditEventType = "login_failed"
	EventTokensIssued          AuditEventType = "tokens_issued"
	EventTokenRefreshed        AuditEventType = "token_refreshed"
	EventTokenRevoked          AuditEventType = "token_revoked"
	EventPasswordResetRequest  AuditEventType = "password_reset_requested"
	EventPasswordResetComplete AuditEventType = "password_reset_completed"
)

// AuditRecord is an append-only security event (spec.md §3).
//
// UserID is always an object reference, never a bare string — this resolves
// the spec's open question about the source mixing both representations.
type AuditRecord struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty"`
	EventType     AuditEventType      `bson:"event_type"`
	UserID        *primitive.ObjectID `bson:"user_id,omitempty"`
	Email         string              `bson:"email,omitempty"`
	Provider      string              `bson:"provider,omitempty"`
	IPAddress     string              `bson:"ip_address,omitempty"`
	Success       bool                `bson:"success"`
	FailureReason string              `bson:"failure_reason,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata,omitempty"`
	Timestamp     time.Time           `bson:"timestamp"`
}

// GroceryItem is one atom of a GroceryList.
type GroceryItem struct {
	ItemName string  `bson:"item_name"`
	Quantity float64 `bson:"quantity"`
	Unit     string  `bson:"unit"`
}

// GroceryList is a named, version-locked list of items (spec.md §3).
type GroceryList struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    primitive.ObjectID `bson:"user_id"`
	Name      string             `bson:"name"`
	Items     []GroceryItem      `bson:"items"`
	Version   int64              `bson:"version"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// Collection names, kept in one place so index setup and query code never
// drift from each other.
const (
	CollectionUsers        = "users"
	CollectionSessions     = "sessions"
	CollectionAuditRecords = "audit_records"
	CollectionGroceryLists = "grocery_lists"
)
