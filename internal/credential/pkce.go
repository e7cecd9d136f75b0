package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// PKCESession carries the Proof Key for Code Exchange parameters spec.md
// §4.6 defines: a 43-128 char URL-safe verifier, its S256 challenge, and a
// 128-bit random state value.
type PKCESession struct {
	State            string
	CodeVerifier     string
	CodeChallenge    string
	ChallengeMethod  string
	CreatedAt        time.Time
}

// NewPKCESession generates a fresh PKCE session.
func NewPKCESession() (*PKCESession, error) {
	verifier, err := randomURLSafeString(64)
	if err != nil {
		return nil, fmt.Errorf("credential: generating code verifier: %w", err)
	}
	state, err := randomURLSafeString(16)
	if err != nil {
		return nil, fmt.Errorf("credential: generating state: %w", err)
	}

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return &PKCESession{
		State:           state,
		CodeVerifier:    verifier,
		CodeChallenge:   challenge,
		ChallengeMethod: "S256",
		CreatedAt:       time.Now(),
	}, nil
}

func randomURLSafeString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
