package credential

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/homestead-systems/assistant-core/internal/audit"
	"github.com/homestead-systems/assistant-core/internal/document"
	"github.com/homestead-systems/assistant-core/internal/token"
	"github.com/homestead-systems/assistant-core/internal/txn"
)

// ErrInvalidResetToken covers an unknown, expired, already-consumed, or
// mismatched password reset token.
var ErrInvalidResetToken = fmt.Errorf("credential: invalid or expired reset token")

// BcryptCost is the adaptive hash cost spec.md §4.6 requires ("cost >= 12").
// Grounded on the teacher's password.go, which hard-codes 12.
const BcryptCost = 12

// LockoutThreshold and LockoutDuration are the default failed-attempt
// lockout policy (spec.md §4.6 defaults).
const (
	LockoutThreshold = 5
	LockoutDuration  = 30 * time.Minute
)

// commonPasswords is a small static denylist; spec.md §4.6 requires
// rejecting passwords "in a static common-passwords set" without mandating
// a specific corpus.
var commonPasswords = map[string]bool{
	"password": true, "password1": true, "password123": true,
	"12345678": true, "123456789": true, "qwerty123": true,
	"letmein1": true, "welcome1": true, "iloveyou1": true,
	"admin1234": true, "football1": true, "abc12345": true,
}

// PasswordProvider implements Provider over the document store's users
// collection, grounded on the teacher's password.go (BcryptHasher) and
// login_service.go/registration_service.go (lockout + audit sequencing),
// adapted from pgx/sqlc calls to txn.Transaction operations.
type PasswordProvider struct {
	audit  audit.Service
	tokens *token.Service
}

// NewPasswordProvider builds a PasswordProvider. tokens issues and
// validates the Reset-kind token the password-reset flow uses.
func NewPasswordProvider(auditSvc audit.Service, tokens *token.Service) *PasswordProvider {
	return &PasswordProvider{audit: auditSvc, tokens: tokens}
}

func (p *PasswordProvider) Name() string                     { return string(document.AuthProviderPassword) }
func (p *PasswordProvider) SupportsPasswordReset() bool       { return true }
func (p *PasswordProvider) SupportsEmailVerification() bool   { return true }

// ValidatePassword enforces spec.md §4.6's policy: minimum 8 chars, at
// least one upper/lower/digit/symbol, not a common password, not a
// superset of the email local-part.
func ValidatePassword(password, email string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return fmt.Errorf("password must contain upper, lower, digit, and symbol characters")
	}
	if commonPasswords[strings.ToLower(password)] {
		return fmt.Errorf("password is too common")
	}

	localPart := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		localPart = email[:at]
	}
	if localPart != "" && strings.Contains(strings.ToLower(password), strings.ToLower(localPart)) {
		return fmt.Errorf("password must not contain your email address")
	}
	return nil
}

// normalizeEmail validates RFC-5322 shape and lowercases the address.
func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("credential: invalid email address: %w", err)
	}
	return strings.ToLower(addr.Address), nil
}

// Register creates a new password-authenticated user. Per spec.md §4.6 this
// validates the email shape, normalizes it, enforces the password policy,
// hashes with bcrypt, and inserts the user row plus a user_registered audit
// event in the same transaction as the caller.
func (p *PasswordProvider) Register(ctx context.Context, tx *txn.Transaction, creds Credentials, profile Profile) (AuthResult, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return AuthResult{Kind: ResultFailure, Reason: err.Error()}, nil
	}
	if err := ValidatePassword(creds.Password, email); err != nil {
		return AuthResult{Kind: ResultFailure, Reason: err.Error()}, nil
	}

	var existing document.User
	err = tx.FindOne(document.CollectionUsers, bson.M{"email": email}, &existing)
	if err == nil {
		return AuthResult{Kind: ResultFailure, Reason: ErrEmailInUse.Error()}, nil
	}
	if err != mongo.ErrNoDocuments {
		return AuthResult{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), BcryptCost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("credential: hashing password: %w", err)
	}
	hashStr := string(hash)
	now := time.Now().UTC()

	user := document.User{
		Email:        email,
		AuthProvider: document.AuthProviderPassword,
		PasswordHash: &hashStr,
		Profile: map[string]interface{}{
			"allergies":             profile.Allergies,
			"diet_types":            profile.DietTypes,
			"cultural_restrictions": profile.CulturalRestrictions,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	insertedID, err := tx.InsertOne(document.CollectionUsers, user)
	if err != nil {
		return AuthResult{}, err
	}
	userID := insertedID.(primitive.ObjectID)

	p.audit.Log(ctx, tx, document.EventUserRegistered, audit.LogParams{
		UserID:  &userID,
		Email:   email,
		Success: true,
	})

	return AuthResult{Kind: ResultSuccess, UserID: userID, Email: email}, nil
}

// Authenticate verifies email/password, enforcing the lockout policy and
// appending an audit record for every outcome.
func (p *PasswordProvider) Authenticate(ctx context.Context, tx *txn.Transaction, creds Credentials) (AuthResult, error) {
	email, err := normalizeEmail(creds.Email)
	if err != nil {
		return AuthResult{Kind: ResultFailure, Reason: ErrInvalidCredentials.Error()}, nil
	}

	var user document.User
	if err := tx.FindOne(document.CollectionUsers, bson.M{"email": email}, &user); err != nil {
		// Do not reveal whether the account exists.
		p.audit.Log(ctx, tx, document.EventLoginFailed, audit.LogParams{Email: email, Success: false, FailureReason: "user_not_found"})
		return AuthResult{Kind: ResultFailure, Reason: ErrInvalidCredentials.Error()}, nil
	}

	now := time.Now().UTC()
	if user.Security.LockedUntil != nil && now.Before(*user.Security.LockedUntil) {
		p.audit.Log(ctx, tx, document.EventLoginFailed, audit.LogParams{UserID: &user.ID, Email: email, Success: false, FailureReason: "account_locked"})
		return AuthResult{Kind: ResultFailure, Reason: ErrAccountLocked.Error()}, nil
	}

	if user.PasswordHash == nil || bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(creds.Password)) != nil {
		return p.recordFailedAttempt(ctx, tx, user, email)
	}

	update := bson.M{"$set": bson.M{
		"security.failed_login_attempts": 0,
		"security.locked_until":          nil,
		"security.last_login":            now,
		"updated_at":                     now,
	}}
	if _, err := tx.UpdateOne(document.CollectionUsers, bson.M{"_id": user.ID}, update, false); err != nil {
		return AuthResult{}, err
	}

	p.audit.Log(ctx, tx, document.EventLoginSuccess, audit.LogParams{UserID: &user.ID, Email: email, Success: true, Provider: p.Name()})
	return AuthResult{Kind: ResultSuccess, UserID: user.ID, Email: email}, nil
}

func (p *PasswordProvider) recordFailedAttempt(ctx context.Context, tx *txn.Transaction, user document.User, email string) (AuthResult, error) {
	attempts := user.Security.FailedLoginAttempts + 1
	set := bson.M{"security.failed_login_attempts": attempts}

	if attempts >= LockoutThreshold {
		lockedUntil := time.Now().UTC().Add(LockoutDuration)
		set["security.locked_until"] = lockedUntil
	}

	if _, err := tx.UpdateOne(document.CollectionUsers, bson.M{"_id": user.ID}, bson.M{"$set": set}, false); err != nil {
		return AuthResult{}, err
	}

	p.audit.Log(ctx, tx, document.EventLoginFailed, audit.LogParams{
		UserID: &user.ID, Email: email, Success: false, FailureReason: "bad_password",
	})
	return AuthResult{Kind: ResultFailure, Reason: ErrInvalidCredentials.Error()}, nil
}

// RequestReset issues a Reset token for email and stores it (value and
// expiry) on the user row, per spec.md §4.6. If the address has no
// account, this succeeds silently — the caller never learns whether an
// account exists, matching the teacher's "silence is golden" recovery
// flow. The raw token is returned so the caller (an email-sending
// collaborator, out of core scope) can deliver it.
func (p *PasswordProvider) RequestReset(ctx context.Context, tx *txn.Transaction, email string) (string, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return "", nil
	}

	var user document.User
	if err := tx.FindOne(document.CollectionUsers, bson.M{"email": normalized}, &user); err != nil {
		return "", nil
	}

	resetToken, err := p.tokens.IssueReset(user.ID, normalized)
	if err != nil {
		return "", fmt.Errorf("credential: issuing reset token: %w", err)
	}
	expiry := time.Now().UTC().Add(token.DefaultResetTTL)

	update := bson.M{"$set": bson.M{
		"security.password_reset_token":   resetToken,
		"security.password_reset_expires": expiry,
	}}
	if _, err := tx.UpdateOne(document.CollectionUsers, bson.M{"_id": user.ID}, update, false); err != nil {
		return "", err
	}

	p.audit.Log(ctx, tx, document.EventPasswordResetRequest, audit.LogParams{UserID: &user.ID, Email: normalized, Success: true})
	return resetToken, nil
}

// CompleteReset validates resetToken, confirms it matches the unexpired
// token stored on the user row, and replaces the password hash. It
// returns the affected user id and email so the caller can revoke that
// user's sessions in the same transaction and, after it commits, clear
// the user's external-service session
// (spec.md §4.6: "on reset revoke all existing sessions for the user").
func (p *PasswordProvider) CompleteReset(ctx context.Context, tx *txn.Transaction, resetToken, newPassword string) (primitive.ObjectID, string, error) {
	claims, err := p.tokens.Validate(resetToken, token.KindReset)
	if err != nil {
		return primitive.NilObjectID, "", ErrInvalidResetToken
	}
	userID, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return primitive.NilObjectID, "", ErrInvalidResetToken
	}

	var user document.User
	if err := tx.FindOne(document.CollectionUsers, bson.M{"_id": userID}, &user); err != nil {
		return primitive.NilObjectID, "", ErrInvalidResetToken
	}

	now := time.Now().UTC()
	if user.Security.PasswordResetToken != resetToken || user.Security.PasswordResetExpiry == nil || now.After(*user.Security.PasswordResetExpiry) {
		return primitive.NilObjectID, "", ErrInvalidResetToken
	}

	if err := ValidatePassword(newPassword, user.Email); err != nil {
		return primitive.NilObjectID, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), BcryptCost)
	if err != nil {
		return primitive.NilObjectID, "", fmt.Errorf("credential: hashing password: %w", err)
	}
	hashStr := string(hash)

	update := bson.M{
		"$set": bson.M{
			"password_hash":       hashStr,
			"updated_at":          now,
			"security.last_password_change": now,
		},
		"$unset": bson.M{
			"security.password_reset_token":   "",
			"security.password_reset_expires": "",
		},
	}
	if _, err := tx.UpdateOne(document.CollectionUsers, bson.M{"_id": userID}, update, false); err != nil {
		return primitive.NilObjectID, "", err
	}

	p.audit.Log(ctx, tx, document.EventPasswordResetComplete, audit.LogParams{UserID: &userID, Email: user.Email, Success: true})
	return userID, user.Email, nil
}
