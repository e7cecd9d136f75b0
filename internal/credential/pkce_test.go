package credential_test

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homestead-systems/assistant-core/internal/credential"
)

func TestNewPKCESession_ChallengeMatchesVerifier(t *testing.T) {
	session, err := credential.NewPKCESession()
	require.NoError(t, err)

	assert.Equal(t, "S256", session.ChallengeMethod)
	assert.GreaterOrEqual(t, len(session.CodeVerifier), 43)
	assert.LessOrEqual(t, len(session.CodeVerifier), 128)

	sum := sha256.Sum256([]byte(session.CodeVerifier))
	expected := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, expected, session.CodeChallenge)
}

func TestNewPKCESession_StatesAreDistinct(t *testing.T) {
	a, err := credential.NewPKCESession()
	require.NoError(t, err)
	b, err := credential.NewPKCESession()
	require.NoError(t, err)
	assert.NotEqual(t, a.State, b.State)
	assert.NotEqual(t, a.CodeVerifier, b.CodeVerifier)
}
