// Package token implements the token service (spec.md §4.5): signed,
// typed envelopes for Access, Refresh, and Reset tokens. Grounded on the
// teacher's internal/auth/token.go JWTProvider, switched from RS256 to an
// HS256 symmetric secret per the specification's signing requirement.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind is the disjoint token type carried in a Claims' Type field.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "reset"
)

// Default lifetimes per spec.md §4.5.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultResetTTL   = time.Hour
)

// MinSecretLen is the minimum symmetric secret length the service accepts,
// per spec.md's "must be loaded from configuration and must not have an
// insecure default."
const MinSecretLen = 32

// ErrInvalid is the single error Validate returns for any failure reason —
// spec.md §4.5 requires callers see "not valid" without subcase detail.
var ErrInvalid = errors.New("token: not valid")

// ErrWeakSecret signals a signing secret shorter than MinSecretLen.
var ErrWeakSecret = errors.New("token: signing secret too short")

// Claims is the envelope carried by every issued token.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Type    Kind   `json:"type"`
	jwt.RegisteredClaims
}

// Service issues and validates Access, Refresh, and Reset tokens using a
// single symmetric secret.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
}

// Option configures a Service's lifetimes.
type Option func(*Service)

func WithAccessTTL(d time.Duration) Option  { return func(s *Service) { s.accessTTL = d } }
func WithRefreshTTL(d time.Duration) Option { return func(s *Service) { s.refreshTTL = d } }
func WithResetTTL(d time.Duration) Option   { return func(s *Service) { s.resetTTL = d } }

// NewService builds a Service. secret must be at least MinSecretLen bytes;
// there is intentionally no fallback default.
func NewService(secret []byte, opts ...Option) (*Service, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	s := &Service{
		secret:     secret,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		resetTTL:   DefaultResetTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newJTI() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generating jti: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *Service) issue(userID primitive.ObjectID, email string, kind Kind, ttl time.Duration) (string, error) {
	jti, err := newJTI()
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		Subject: userID.Hex(),
		Email:   email,
		Type:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: signing: %w", err)
	}
	return signed, nil
}

// IssueAccess issues a short-lived Access token.
func (s *Service) IssueAccess(userID primitive.ObjectID, email string) (string, error) {
	return s.issue(userID, email, KindAccess, s.accessTTL)
}

// IssueRefresh issues a long-lived Refresh token.
func (s *Service) IssueRefresh(userID primitive.ObjectID, email string) (string, error) {
	return s.issue(userID, email, KindRefresh, s.refreshTTL)
}

// IssueReset issues a Reset token for the password-reset flow.
func (s *Service) IssueReset(userID primitive.ObjectID, email string) (string, error) {
	return s.issue(userID, email, KindReset, s.resetTTL)
}

// Validate parses tokenString and checks: signature verifies, Type ==
// expectedType, and now < exp. Any failure returns ErrInvalid itself,
// with no detail about which check failed.
func (s *Service) Validate(tokenString string, expectedType Kind) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Type != expectedType {
		return nil, ErrInvalid
	}
	return claims, nil
}

// DecodeUnchecked parses tokenString's claims without verifying signature
// or expiry. Spec.md §4.5: "for revocation, never for authorization" — use
// this only to read a jti for a blocklist check, never to trust identity.
func DecodeUnchecked(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("token: decoding: %w", err)
	}
	return claims, nil
}
