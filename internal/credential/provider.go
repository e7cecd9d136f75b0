// Package credential implements the credential provider abstraction
// (spec.md §4.6): a pluggable Provider interface with a password-based
// implementation and an OAuth2+PKCE implementation, grounded on the
// teacher's internal/auth password/login/registration services and
// generalized from a single hard-wired password flow to a provider
// registry keyed by name.
package credential

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/homestead-systems/assistant-core/internal/txn"
)

// Sentinel errors shared across providers, mirroring the teacher's
// service.go error set.
var (
	ErrUserNotFound       = errors.New("credential: user not found")
	ErrInvalidCredentials = errors.New("credential: invalid email or password")
	ErrAccountLocked      = errors.New("credential: account is locked")
	ErrEmailInUse         = errors.New("credential: email already registered")
)

// ResultKind tags the outcome variant of an authentication or registration
// attempt.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultRequiresVerification
	ResultFailure
)

// AuthResult is the tagged variant spec.md §4.6 defines:
// {Success{user_id, email, metadata?}, RequiresVerification, Failure{reason}}.
type AuthResult struct {
	Kind     ResultKind
	UserID   primitive.ObjectID
	Email    string
	Metadata map[string]interface{}
	Reason   string
}

// Credentials is the provider-agnostic input to Register/Authenticate. Only
// the fields relevant to the chosen provider need be populated.
type Credentials struct {
	Email            string
	Password         string
	OAuthCode        string
	OAuthCodeVerifier string
	OAuthState       string
}

// Profile carries the initial onboarding fields a new user supplies at
// registration.
type Profile struct {
	Allergies            []string
	DietTypes            []string
	CulturalRestrictions []string
}

// Provider is the pluggable credential backend contract.
type Provider interface {
	Name() string
	SupportsPasswordReset() bool
	SupportsEmailVerification() bool
	Register(ctx context.Context, tx *txn.Transaction, creds Credentials, profile Profile) (AuthResult, error)
	Authenticate(ctx context.Context, tx *txn.Transaction, creds Credentials) (AuthResult, error)
}
