// Package authsvc implements the authentication service (spec.md §4.7),
// composing the token service (C5), credential providers (C6), the
// connection state machine (C1), and the transaction runtime (C2).
// Grounded on the teacher's internal/auth/service.go AuthService, which
// wires the equivalent RSA/pgx/sqlc stack together; this generalizes the
// same composition-root shape to the document store and HS256 tokens.
package authsvc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/homestead-systems/assistant-core/internal/audit"
	"github.com/homestead-systems/assistant-core/internal/cache"
	"github.com/homestead-systems/assistant-core/internal/credential"
	"github.com/homestead-systems/assistant-core/internal/document"
	"github.com/homestead-systems/assistant-core/internal/extsession"
	"github.com/homestead-systems/assistant-core/internal/token"
	"github.com/homestead-systems/assistant-core/internal/txn"
)

// ErrUnknownProvider is returned when RegisterUser/AuthenticateUser names a
// provider the service was not configured with.
var ErrUnknownProvider = errors.New("authsvc: unknown credential provider")

// ErrSessionNotFound is returned when a token's jti has no live session.
var ErrSessionNotFound = errors.New("authsvc: session not found or revoked")

// TokenPair is the access/refresh pair handed back on a successful
// authentication or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionInfo is what ValidateSession returns for a usable session.
type SessionInfo struct {
	UserID primitive.ObjectID
	Email  string
}

// Service orchestrates registration, login, refresh, and revocation.
type Service struct {
	runtime   *txn.Runtime
	tokens    *token.Service
	providers map[string]credential.Provider
	audit     audit.Service
	registry  *extsession.Registry
	cache     *cache.Cache
}

// New builds a Service. providers is keyed by Provider.Name(). registry may
// be nil, in which case logout and password reset skip the external-session
// teardown step (no C8 registry configured). artifactCache may also be nil,
// in which case password reset skips C4 invalidation (no cache configured).
func New(runtime *txn.Runtime, tokens *token.Service, providers map[string]credential.Provider, auditSvc audit.Service, registry *extsession.Registry, artifactCache *cache.Cache) *Service {
	return &Service{runtime: runtime, tokens: tokens, providers: providers, audit: auditSvc, registry: registry, cache: artifactCache}
}

// ProfileFingerprint computes C4's profile fingerprint (spec.md §4.4) for
// userID from the profile fields that influence a cached artifact:
// allergies, diet types, and cultural restrictions. Callers use it to key
// and later invalidate per-user cache entries.
func (s *Service) ProfileFingerprint(ctx context.Context, userID primitive.ObjectID) (string, error) {
	var user document.User
	err := s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		return tx.FindOne(document.CollectionUsers, bson.M{"_id": userID}, &user)
	}, 1)
	if err != nil {
		return "", fmt.Errorf("authsvc: loading profile for fingerprint: %w", err)
	}

	fields := make([]string, 0, 8)
	for _, key := range []string{"allergies", "diet_types", "cultural_restrictions"} {
		raw, ok := user.Profile[key]
		if !ok {
			continue
		}
		values, ok := raw.([]string)
		if !ok {
			iface, ok := raw.([]interface{})
			if arr, isArr := raw.(primitive.A); isArr {
				iface, ok = arr, true
			}
			if ok {
				for _, v := range iface {
					if s, ok := v.(string); ok {
						fields = append(fields, s)
					}
				}
			}
			continue
		}
		fields = append(fields, values...)
	}
	return cache.Fingerprint(fields...), nil
}

// CacheKeyPrefix is the prefix InvalidateForUser must be called with to
// invalidate every cache entry derived from this user's profile, matching
// how ProfileCacheKey builds keys below.
func CacheKeyPrefix(email string) string { return email }

// ProfileCacheKey derives a C4 cache key scoped to email so a later
// InvalidateForUser(CacheKeyPrefix(email)) reliably matches it, regardless
// of mode or fingerprint.
func ProfileCacheKey(email, inputHash, mode, fingerprint string) string {
	return cache.Key(email+":"+inputHash, mode, fingerprint)
}

func (s *Service) provider(name string) (credential.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// RegisterUser registers a new account through providerName and, on
// success, issues and persists a fresh TokenPair in the same transaction
// as the registration write.
func (s *Service) RegisterUser(ctx context.Context, providerName string, creds credential.Credentials, profile credential.Profile) (credential.AuthResult, *TokenPair, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return credential.AuthResult{}, nil, err
	}

	var result credential.AuthResult
	var pair *TokenPair

	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		r, rerr := p.Register(ctx, tx, creds, profile)
		if rerr != nil {
			return rerr
		}
		result = r
		if r.Kind != credential.ResultSuccess {
			return nil
		}
		tp, perr := s.issueSessionLocked(ctx, tx, r.UserID, r.Email)
		if perr != nil {
			return perr
		}
		pair = tp
		return nil
	}, 1)

	if err != nil {
		return credential.AuthResult{}, nil, err
	}
	return result, pair, nil
}

// AuthenticateUser authenticates through providerName and, on success,
// issues a TokenPair within the same transaction as the session write.
func (s *Service) AuthenticateUser(ctx context.Context, providerName string, creds credential.Credentials) (credential.AuthResult, *TokenPair, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return credential.AuthResult{}, nil, err
	}

	var result credential.AuthResult
	var pair *TokenPair

	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		r, rerr := p.Authenticate(ctx, tx, creds)
		if rerr != nil {
			return rerr
		}
		result = r
		if r.Kind != credential.ResultSuccess {
			return nil
		}
		tp, perr := s.issueSessionLocked(ctx, tx, r.UserID, r.Email)
		if perr != nil {
			return perr
		}
		pair = tp
		return nil
	}, 1)

	if err != nil {
		return credential.AuthResult{}, nil, err
	}
	return result, pair, nil
}

// issueSessionLocked issues an Access/Refresh pair and writes the session
// row plus a tokens_issued audit record, all inside tx. Per spec.md §4.7,
// the session row must exist before the pair is considered issued — since
// this whole function runs inside the caller's transaction, a failure here
// aborts the transaction and the tokens are never returned to the caller.
func (s *Service) issueSessionLocked(ctx context.Context, tx *txn.Transaction, userID primitive.ObjectID, email string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(userID, email)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(userID, email)
	if err != nil {
		return nil, err
	}

	accessClaims, err := token.DecodeUnchecked(access)
	if err != nil {
		return nil, err
	}
	refreshClaims, err := token.DecodeUnchecked(refresh)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := document.Session{
		UserID:          userID,
		AccessTokenJTI:  accessClaims.ID,
		RefreshTokenJTI: refreshClaims.ID,
		CreatedAt:       now,
		ExpiresAt:       refreshClaims.ExpiresAt.Time,
		LastActivity:    now,
	}
	if _, err := tx.InsertOne(document.CollectionSessions, session); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, tx, document.EventTokensIssued, audit.LogParams{UserID: &userID, Email: email, Success: true})
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// RefreshToken validates refreshToken, confirms a live session still owns
// its jti, and atomically rotates both JTIs in place.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	userID, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return nil, token.ErrInvalid
	}

	var pair *TokenPair
	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		var session document.Session
		if ferr := tx.FindOne(document.CollectionSessions, bson.M{
			"refresh_token_jti": claims.ID,
			"revoked":           false,
		}, &session); ferr != nil {
			if ferr == mongo.ErrNoDocuments {
				return ErrSessionNotFound
			}
			return ferr
		}

		newAccess, aerr := s.tokens.IssueAccess(userID, claims.Email)
		if aerr != nil {
			return aerr
		}
		newRefresh, rerr := s.tokens.IssueRefresh(userID, claims.Email)
		if rerr != nil {
			return rerr
		}
		newAccessClaims, _ := token.DecodeUnchecked(newAccess)
		newRefreshClaims, _ := token.DecodeUnchecked(newRefresh)

		now := time.Now().UTC()
		update := bson.M{"$set": bson.M{
			"access_token_jti":  newAccessClaims.ID,
			"refresh_token_jti": newRefreshClaims.ID,
			"last_activity":     now,
			"expires_at":        newRefreshClaims.ExpiresAt.Time,
		}}
		if _, uerr := tx.UpdateOne(document.CollectionSessions, bson.M{"_id": session.ID}, update, false); uerr != nil {
			return uerr
		}

		s.audit.Log(ctx, tx, document.EventTokenRefreshed, audit.LogParams{UserID: &userID, Email: claims.Email, Success: true})
		pair = &TokenPair{AccessToken: newAccess, RefreshToken: newRefresh}
		return nil
	}, 3)

	if err != nil {
		return nil, err
	}
	return pair, nil
}

// ValidateSession validates accessToken and confirms a live, non-revoked
// session row still claims its jti, stamping last_activity.
func (s *Service) ValidateSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	claims, err := s.tokens.Validate(accessToken, token.KindAccess)
	if err != nil {
		return nil, err
	}
	userID, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return nil, token.ErrInvalid
	}

	var info *SessionInfo
	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		var session document.Session
		if ferr := tx.FindOne(document.CollectionSessions, bson.M{
			"access_token_jti": claims.ID,
			"revoked":          false,
		}, &session); ferr != nil {
			if ferr == mongo.ErrNoDocuments {
				return ErrSessionNotFound
			}
			return ferr
		}
		if !session.Usable(time.Now().UTC()) {
			return ErrSessionNotFound
		}

		if _, uerr := tx.UpdateOne(document.CollectionSessions, bson.M{"_id": session.ID},
			bson.M{"$set": bson.M{"last_activity": time.Now().UTC()}}, false); uerr != nil {
			return uerr
		}
		info = &SessionInfo{UserID: userID, Email: claims.Email}
		return nil
	}, 1)

	if err != nil {
		return nil, err
	}
	return info, nil
}

// RevokeToken decodes token unchecked for its jti and revokes any session
// whose access or refresh JTI matches.
func (s *Service) RevokeToken(ctx context.Context, tok string) (bool, error) {
	claims, err := token.DecodeUnchecked(tok)
	if err != nil {
		return false, err
	}

	revoked := false
	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		res, uerr := tx.UpdateMany(document.CollectionSessions, bson.M{
			"$or": []bson.M{
				{"access_token_jti": claims.ID},
				{"refresh_token_jti": claims.ID},
			},
			"revoked": false,
		}, bson.M{"$set": bson.M{"revoked": true}})
		if uerr != nil {
			return uerr
		}
		revoked = res.ModifiedCount > 0

		var userID *primitive.ObjectID
		if id, perr := primitive.ObjectIDFromHex(claims.Subject); perr == nil {
			userID = &id
		}
		s.audit.Log(ctx, tx, document.EventTokenRevoked, audit.LogParams{UserID: userID, Email: claims.Email, Success: revoked})
		return nil
	}, 1)

	if err != nil {
		return false, err
	}
	return revoked, nil
}

// Logout revokes accessToken's session and, per spec.md §4.8, closes the
// user's live external-service handle and clears its on-disk session under
// the registry lock in the same call.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := token.DecodeUnchecked(accessToken)
	if err != nil {
		return fmt.Errorf("authsvc: logout: %w", err)
	}

	if _, err := s.RevokeToken(ctx, accessToken); err != nil {
		return fmt.Errorf("authsvc: logout: %w", err)
	}

	if s.registry != nil {
		if err := s.registry.Clear(claims.Email); err != nil {
			return fmt.Errorf("authsvc: logout: clearing external session: %w", err)
		}
	}
	return nil
}

// passwordResetProvider is the subset of the password provider the reset
// flow needs, so this file doesn't depend on credential.PasswordProvider's
// full concrete type beyond what it calls.
type passwordResetProvider interface {
	RequestReset(ctx context.Context, tx *txn.Transaction, email string) (string, error)
	CompleteReset(ctx context.Context, tx *txn.Transaction, resetToken, newPassword string) (primitive.ObjectID, string, error)
}

// RequestPasswordReset issues a reset token for email through the named
// provider's password-reset support, if it has any. Returns the raw token
// for an email-sending collaborator to deliver; callers must not expose it
// directly to an HTTP client.
func (s *Service) RequestPasswordReset(ctx context.Context, providerName, email string) (string, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return "", err
	}
	resetCapable, ok := p.(passwordResetProvider)
	if !ok {
		return "", fmt.Errorf("authsvc: provider %q does not support password reset", providerName)
	}

	var resetToken string
	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		t, rerr := resetCapable.RequestReset(ctx, tx, email)
		resetToken = t
		return rerr
	}, 1)
	if err != nil {
		return "", err
	}
	return resetToken, nil
}

// CompletePasswordReset validates resetToken, updates the password, and
// revokes every existing session for the affected user in the same
// transaction, per spec.md §4.6. It also clears the user's external-service
// session, per spec.md §4.8's "a password change MUST invalidate all of
// that user's external sessions," and invalidates that user's C4 cache
// entries as the account-mutation trigger spec.md §4.4 calls for.
func (s *Service) CompletePasswordReset(ctx context.Context, providerName, resetToken, newPassword string) error {
	p, err := s.provider(providerName)
	if err != nil {
		return err
	}
	resetCapable, ok := p.(passwordResetProvider)
	if !ok {
		return fmt.Errorf("authsvc: provider %q does not support password reset", providerName)
	}

	var email string
	err = s.runtime.ExecuteInTransaction(ctx, func(tx *txn.Transaction) error {
		userID, userEmail, rerr := resetCapable.CompleteReset(ctx, tx, resetToken, newPassword)
		if rerr != nil {
			return rerr
		}
		email = userEmail
		_, uerr := tx.UpdateMany(document.CollectionSessions, bson.M{"user_id": userID, "revoked": false}, bson.M{"$set": bson.M{"revoked": true}})
		return uerr
	}, 1)
	if err != nil {
		return err
	}

	if s.registry != nil {
		if err := s.registry.Clear(email); err != nil {
			return fmt.Errorf("authsvc: completing password reset: clearing external session: %w", err)
		}
	}

	if s.cache != nil {
		if _, err := s.cache.InvalidateForUser(CacheKeyPrefix(email)); err != nil {
			return fmt.Errorf("authsvc: completing password reset: invalidating cached artifacts: %w", err)
		}
	}
	return nil
}
